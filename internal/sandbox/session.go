// Package sandbox hosts one isolated goja interpreter per script run.
// A Session builds a capability-limited surface (the bru global and its
// runner namespace), evaluates the script as an async program, bridges
// host asynchronous operations into guest promises, and releases every
// allocated resource on teardown.
package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/quailhq/quail/internal/marshal"
	"github.com/quailhq/quail/internal/qerr"
)

// State is the session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateSurfaceInstalled
	StateEvaluating
	StateCompleted
	StateFailed
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSurfaceInstalled:
		return "surface-installed"
	case StateEvaluating:
		return "evaluating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one script evaluation.
type Result struct {
	Status State // StateCompleted or StateFailed
	Value  any
	Err    *ScriptError
}

// Failed reports whether the evaluation failed.
func (r *Result) Failed() bool {
	return r.Status == StateFailed
}

// disposable is one guest-side resource registered for release.
type disposable struct {
	name     string
	release  func() error
	released bool
}

// Session owns one guest interpreter for the duration of one script run.
// It creates the interpreter, wires the capability surface into its global
// scope, evaluates the script body, and disposes every resource it
// allocated. A session is single-use and driven by a single goroutine; host
// operations complete on other goroutines but only touch the interpreter
// through the settlement channel.
type Session struct {
	vm       *goja.Runtime
	provider Provider
	state    State
	timeout  time.Duration

	// Snapshots exposed as req/res globals, when present.
	request  map[string]any
	response map[string]any

	// Async bridge state.
	settlements chan settlement
	pending     int
	evalCtx     context.Context
	done        chan struct{}

	// Disposal registry.
	disposables  []disposable
	disposeCalls int

	result *Result
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the wall-clock deadline for one evaluation.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithRequest exposes a request snapshot as the req global.
func WithRequest(snapshot map[string]any) Option {
	return func(s *Session) { s.request = snapshot }
}

// WithResponse exposes a response snapshot as the res global.
func WithResponse(snapshot map[string]any) Option {
	return func(s *Session) { s.response = snapshot }
}

// hardenProgram removes guest access to dynamic code construction and
// freezes the built-in prototypes against pollution. Compiled once,
// evaluated per interpreter.
var hardenProgram = goja.MustCompile("harden.js", `
	(function() {
		try {
			Object.freeze(Object.prototype);
			Object.freeze(Array.prototype);
			Object.freeze(String.prototype);
			Object.freeze(Number.prototype);
			Object.freeze(Boolean.prototype);
		} catch (e) {}
	})();
`, false)

// New creates a session with a fresh, hardened guest interpreter.
// No globals beyond language built-ins exist until InstallSurface runs.
func New(provider Provider, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, qerr.New(qerr.ErrInternal, "sandbox session requires a capability provider")
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(512)

	// No ambient host access: dynamic evaluation and Node-style globals
	// are unreachable inside the guest.
	vm.Set("eval", goja.Undefined())
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	if _, err := vm.RunProgram(hardenProgram); err != nil {
		return nil, qerr.Wrap(qerr.ErrInternal, err, "failed to harden guest interpreter")
	}

	s := &Session{
		vm:          vm,
		provider:    provider,
		state:       StateCreated,
		timeout:     30 * time.Second,
		settlements: make(chan settlement, 16),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Result returns the terminal result, or nil before evaluation finishes.
func (s *Session) Result() *Result {
	return s.result
}

// AllocatedCount returns the number of disposable resources created so far.
func (s *Session) AllocatedCount() int {
	return len(s.disposables)
}

// DisposedCount returns the number of disposal calls issued so far.
func (s *Session) DisposedCount() int {
	return s.disposeCalls
}

// register records a guest-side allocation and returns its registry index.
func (s *Session) register(name string, release func() error) int {
	s.disposables = append(s.disposables, disposable{name: name, release: release})
	return len(s.disposables) - 1
}

// releaseAt releases a single registered resource. Releasing is
// best-effort: a panicking or failing release is reported but never
// re-entered and never blocks other releases.
func (s *Session) releaseAt(idx int) error {
	d := &s.disposables[idx]
	if d.released {
		return nil
	}
	d.released = true
	s.disposeCalls++

	if d.release == nil {
		return nil
	}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = qerr.Newf(qerr.ErrInternal, "disposal of %s panicked: %v", d.name, r)
			}
		}()
		err = d.release()
	}()
	if err != nil && !qerr.HasCode(err) {
		err = qerr.Wrapf(qerr.ErrInternal, err, "disposal of %s failed", d.name)
	}
	return err
}

// InstallSurface builds the capability surface (bru global, runner
// namespace, utility modules, request/response snapshots) and evaluates the
// bootstrap shim. Valid only in the Created state.
func (s *Session) InstallSurface() error {
	if s.state != StateCreated {
		return qerr.Newf(qerr.ErrSessionState, "cannot install surface in state %s", s.state)
	}
	if err := s.installSurface(); err != nil {
		return err
	}
	s.state = StateSurfaceInstalled
	return nil
}

// Evaluate runs the script body as the top-level program of the guest's
// global scope. The body is wrapped in an async function, so await is
// available at the top level and a script produces a result value with
// return. The evaluation is itself asynchronous: a script may suspend
// on capability calls, and Evaluate pumps host settlements until the
// top-level outcome settles. Thrown guest values surface as a structured
// failure result, never as an error crossing into host control flow.
//
// Evaluate never leaves the session undisposed: callers own disposal via
// Dispose, which is valid on every path out of Evaluate.
func (s *Session) Evaluate(ctx context.Context, script string) *Result {
	if s.state == StateCreated {
		if err := s.InstallSurface(); err != nil {
			return s.finishFailure(&ScriptError{Message: err.Error()})
		}
	}
	if s.state != StateSurfaceInstalled {
		return s.finishFailure(&ScriptError{
			Message: qerr.Newf(qerr.ErrSessionState, "cannot evaluate in state %s", s.state).Error(),
		})
	}
	s.state = StateEvaluating
	s.evalCtx = ctx

	// The async wrapper makes await the script's only suspension
	// mechanism and turns every outcome into one top-level promise.
	// It adds exactly one line before user code.
	const lineOffset = 1

	// Grace window for settling unawaited operations after the top-level
	// promise has already settled.
	const strayDrainGrace = 100 * time.Millisecond
	wrapped := "(async function() {\n" + script + "\n})()"

	deadline := time.Now().Add(s.timeout)
	interrupt := time.AfterFunc(s.timeout, func() {
		s.vm.Interrupt("script evaluation timed out")
	})
	defer func() {
		interrupt.Stop()
		s.vm.ClearInterrupt()
	}()

	value, err := s.vm.RunString(wrapped)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return s.finishFailure(&ScriptError{Message: "script evaluation timed out"})
		}
		return s.finishFailure(parseThrown(err, lineOffset))
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return s.finishCompleted(marshal.ToHost(value))
	}

	// Pump host settlements until the top-level promise settles. Each
	// settlement resolves or rejects one guest handle and drains the
	// guest's pending continuations before the next one is processed.
	for promise.State() == goja.PromiseStatePending {
		if s.pending == 0 {
			return s.finishFailure(&ScriptError{
				Message: "script awaits a value that can never settle",
			})
		}
		st, serr := s.nextSettlement(ctx, deadline)
		if serr != nil {
			return s.finishFailure(&ScriptError{Message: serr.Error()})
		}
		if aerr := s.applySettlement(st); aerr != nil {
			return s.finishFailure(&ScriptError{Message: aerr.Error()})
		}
	}

	// Let stray asynchronous work (unawaited test blocks) record its
	// results before the outcome is read back. The script itself is done,
	// so this drain gets a short grace window, not the full deadline: a
	// fire-and-forget slow operation must not stall a finished script.
	if s.pending > 0 {
		grace := time.Now().Add(strayDrainGrace)
		if grace.After(deadline) {
			grace = deadline
		}
		for s.pending > 0 {
			st, serr := s.nextSettlement(ctx, grace)
			if serr != nil {
				break
			}
			if aerr := s.applySettlement(st); aerr != nil {
				break
			}
		}
	}

	if promise.State() == goja.PromiseStateRejected {
		return s.finishFailure(valueToScriptError(promise.Result()))
	}
	return s.finishCompleted(marshal.ToHostSafeCircular(promise.Result()))
}

func (s *Session) finishCompleted(value any) *Result {
	s.state = StateCompleted
	s.result = &Result{Status: StateCompleted, Value: value}
	return s.result
}

func (s *Session) finishFailure(se *ScriptError) *Result {
	s.state = StateFailed
	s.result = &Result{Status: StateFailed, Err: se}
	return s.result
}

// Dispose releases every resource the session allocated, unconditionally
// and in reverse allocation order. It is idempotent and mandatory on every
// path, including failures. Individual disposal errors are aggregated but
// never block the remaining releases.
func (s *Session) Dispose() error {
	if s.state == StateDisposed {
		return nil
	}
	// Release any operation goroutine still waiting to deliver a
	// settlement nobody will pump.
	close(s.done)
	var errs []error
	for i := len(s.disposables) - 1; i >= 0; i-- {
		if err := s.releaseAt(i); err != nil {
			errs = append(errs, err)
		}
	}
	s.state = StateDisposed
	return errors.Join(errs...)
}
