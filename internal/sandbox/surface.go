package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/quailhq/quail/internal/htmlmod"
	"github.com/quailhq/quail/internal/marshal"
	"github.com/quailhq/quail/internal/qerr"
	"github.com/quailhq/quail/internal/vars"
)

// installSurface builds the guest-global bru object, the nested runner
// namespace, the utility modules and the request/response snapshots, then
// evaluates the bootstrap shim. Every created function and object is
// registered for disposal at session end.
func (s *Session) installSurface() error {
	vm := s.vm
	global := vm.GlobalObject()

	bru := vm.NewObject()
	if err := global.Set("bru", bru); err != nil {
		return qerr.Wrap(qerr.ErrInternal, err, "failed to install bru global")
	}
	s.register("global:bru", func() error { return global.Delete("bru") })

	// Variable accessors, parameterized by scope.
	s.exposeFn(bru, "getProcessEnv", s.varGetter(vars.ScopeProcess))
	s.exposeFn(bru, "getEnvVar", s.varGetter(vars.ScopeEnvironment))
	s.exposeFn(bru, "setEnvVar", s.varSetter(vars.ScopeEnvironment))
	s.exposeFn(bru, "getGlobalEnvVar", s.varGetter(vars.ScopeGlobal))
	s.exposeFn(bru, "setGlobalEnvVar", s.varSetter(vars.ScopeGlobal))
	s.exposeFn(bru, "getCollectionVar", s.varGetter(vars.ScopeCollection))
	s.exposeFn(bru, "getFolderVar", s.varGetter(vars.ScopeFolder))
	s.exposeFn(bru, "getRequestVar", s.varGetter(vars.ScopeRequest))
	s.exposeFn(bru, "getSecretVar", s.varGetter(vars.ScopeSecret))
	s.exposeFn(bru, "getVar", s.varGetter(vars.ScopeRuntime))
	s.exposeFn(bru, "setVar", s.varSetter(vars.ScopeRuntime))
	s.exposeFn(bru, "deleteVar", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if err := s.provider.DeleteVar(vars.ScopeRuntime, name); err != nil {
			s.throw(err)
		}
		return goja.Undefined()
	})
	s.exposeFn(bru, "hasVar", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		ok, err := s.provider.HasVar(vars.ScopeRuntime, name)
		if err != nil {
			s.throw(err)
		}
		return s.vm.ToValue(ok)
	})

	// Introspection.
	s.exposeFn(bru, "interpolate", func(call goja.FunctionCall) goja.Value {
		out, err := s.provider.Interpolate(call.Argument(0).String())
		if err != nil {
			s.throw(err)
		}
		return s.vm.ToValue(out)
	})
	s.exposeFn(bru, "getEnvName", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(s.provider.EnvName())
	})
	s.exposeFn(bru, "getCollectionName", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(s.provider.CollectionName())
	})
	s.exposeFn(bru, "cwd", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(s.provider.Cwd())
	})

	// Visualization hook.
	s.exposeFn(bru, "visualize", func(call goja.FunctionCall) goja.Value {
		s.provider.Visualize(call.Argument(0).String())
		return goja.Undefined()
	})

	// Asynchronous capabilities.
	s.exposeFn(bru, "sleep", func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		return s.vm.ToValue(s.newAsync("sleep", func(ctx context.Context) (any, error) {
			return nil, s.provider.Sleep(ctx, time.Duration(ms)*time.Millisecond)
		}))
	})

	// Raw request dispatch under an internal name; the bootstrap shim
	// installs the optional-callback convenience wrapper over it.
	s.exposeFn(bru, "__sendRequest", func(call goja.FunctionCall) goja.Value {
		config, ok := marshal.ToHost(call.Argument(0)).(map[string]any)
		if !ok {
			s.throw(qerr.New(qerr.ErrBadArgument, "sendRequest requires a request config object"))
		}
		return s.vm.ToValue(s.newAsync("sendRequest", func(ctx context.Context) (any, error) {
			return s.provider.Dispatch(ctx, config)
		}))
	})

	// Test and assertion sinks plus their asynchronous readbacks.
	s.exposeFn(bru, "__addTestResult", func(call goja.FunctionCall) goja.Value {
		s.provider.AddTestResult(testResultFromGuest(marshal.ToHost(call.Argument(0))))
		return goja.Undefined()
	})
	s.exposeFn(bru, "__addAssertResult", func(call goja.FunctionCall) goja.Value {
		s.provider.AddAssertResult(assertResultFromGuest(marshal.ToHost(call.Argument(0))))
		return goja.Undefined()
	})
	s.exposeFn(bru, "getTestResults", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(s.newAsync("getTestResults", func(ctx context.Context) (any, error) {
			results, err := s.provider.TestResults(ctx)
			if err != nil {
				return nil, err
			}
			return marshal.Sanitize(results), nil
		}))
	})
	s.exposeFn(bru, "getAssertionResults", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(s.newAsync("getAssertionResults", func(ctx context.Context) (any, error) {
			results, err := s.provider.AssertResults(ctx)
			if err != nil {
				return nil, err
			}
			return marshal.Sanitize(results), nil
		}))
	})

	// Run-control operations, at the top level and duplicated under the
	// runner namespace for iterative execution contexts.
	runner := vm.NewObject()
	if err := bru.Set("runner", runner); err != nil {
		return qerr.Wrap(qerr.ErrInternal, err, "failed to install runner namespace")
	}
	s.register("bru.runner", func() error { return bru.Delete("runner") })
	for _, target := range []*goja.Object{bru, runner} {
		s.exposeFn(target, "skipRequest", func(call goja.FunctionCall) goja.Value {
			s.provider.SkipRequest()
			return goja.Undefined()
		})
		s.exposeFn(target, "stopExecution", func(call goja.FunctionCall) goja.Value {
			s.provider.StopExecution()
			return goja.Undefined()
		})
		s.exposeFn(target, "setNextRequest", func(call goja.FunctionCall) goja.Value {
			s.provider.SetNextRequest(call.Argument(0).String())
			return goja.Undefined()
		})
	}

	// Pre-approved utility module.
	if err := global.Set("html", htmlmod.Object(vm)); err != nil {
		return qerr.Wrap(qerr.ErrInternal, err, "failed to install html module")
	}
	s.register("global:html", func() error { return global.Delete("html") })

	// Request/response snapshots, when the runner provides them.
	if s.request != nil {
		if err := global.Set("req", marshal.ToGuest(vm, s.request)); err != nil {
			return qerr.Wrap(qerr.ErrInternal, err, "failed to install req snapshot")
		}
		s.register("global:req", func() error { return global.Delete("req") })
	}
	if s.response != nil {
		if err := global.Set("res", marshal.ToGuest(vm, s.response)); err != nil {
			return qerr.Wrap(qerr.ErrInternal, err, "failed to install res snapshot")
		}
		s.register("global:res", func() error { return global.Delete("res") })
	}

	// The bootstrap shim is compiled once at package load and evaluated
	// here: it installs bru.sendRequest's optional-callback calling
	// convention and the test/assert helpers. The calling convention must
	// be decided in guest code, so the wrapper lives guest-side.
	if _, err := vm.RunProgram(bootstrapProgram); err != nil {
		return qerr.Wrap(qerr.ErrInternal, err, "bootstrap shim evaluation failed")
	}
	s.register("bru.sendRequest", func() error { return bru.Delete("sendRequest") })
	s.register("global:test", func() error { return global.Delete("test") })
	s.register("global:assert", func() error { return global.Delete("assert") })

	return nil
}

// exposeFn wraps a host capability as a guest-callable member of obj and
// registers it for disposal.
func (s *Session) exposeFn(obj *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
	_ = obj.Set(name, fn)
	s.register("fn:"+name, func() error { return obj.Delete(name) })
}

// throw raises a normalized {message} error inside the guest. Scripts may
// catch it; uncaught it fails the evaluation.
func (s *Session) throw(err error) {
	panic(s.vm.ToValue(marshal.NormalizeError(err)))
}

func (s *Session) varGetter(scope vars.Scope) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		v, err := s.provider.GetVar(scope, name)
		if err != nil {
			s.throw(err)
		}
		return marshal.ToGuest(s.vm, v)
	}
}

func (s *Session) varSetter(scope vars.Scope) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		value := marshal.ToHost(call.Argument(1))
		if err := s.provider.SetVar(scope, name, value); err != nil {
			s.throw(err)
		}
		return goja.Undefined()
	}
}

func testResultFromGuest(v any) TestResult {
	m, _ := v.(map[string]any)
	r := TestResult{Status: TestFail}
	if name, ok := m["name"].(string); ok {
		r.Name = name
	}
	if status, ok := m["status"].(string); ok && (status == TestPass || status == TestFail) {
		r.Status = status
	}
	if errMsg, ok := m["error"].(string); ok {
		r.Error = errMsg
	}
	return r
}

func assertResultFromGuest(v any) AssertResult {
	m, _ := v.(map[string]any)
	r := AssertResult{}
	if desc, ok := m["description"].(string); ok {
		r.Description = desc
	}
	if passed, ok := m["passed"].(bool); ok {
		r.Passed = passed
	}
	if errMsg, ok := m["error"].(string); ok {
		r.Error = errMsg
	}
	return r
}
