package runner

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quailhq/quail/internal/httpexec"
	"github.com/quailhq/quail/internal/sandbox"
	"github.com/quailhq/quail/internal/vars"
)

// provider adapts the runner's state into the capability surface one
// session sees. It lives for one request's stages and accumulates the
// signals and results scripts emit.
type provider struct {
	store      *vars.Store
	dispatcher httpexec.Dispatcher
	envName    string
	colName    string
	cwd        string
	log        *zap.Logger

	tests   []sandbox.TestResult
	asserts []sandbox.AssertResult
	visuals []string

	skipped     bool
	stopped     bool
	nextRequest string
}

var _ sandbox.Provider = (*provider)(nil)

// NewInteractiveProvider builds a capability provider over a shared
// store for interactive sessions. Each console line runs in a fresh
// session against the same provider, so variables persist across lines.
func NewInteractiveProvider(store *vars.Store, d httpexec.Dispatcher, colName, envName, cwd string, log *zap.Logger) sandbox.Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &provider{
		store:      store,
		dispatcher: d,
		envName:    envName,
		colName:    colName,
		cwd:        cwd,
		log:        log,
	}
}

func (p *provider) GetVar(scope vars.Scope, name string) (any, error) {
	if scope == vars.ScopeProcess {
		return os.Getenv(name), nil
	}
	v, _ := p.store.Get(scope, name)
	return v, nil
}

func (p *provider) SetVar(scope vars.Scope, name string, value any) error {
	return p.store.Set(scope, name, value)
}

func (p *provider) DeleteVar(scope vars.Scope, name string) error {
	p.store.Delete(scope, name)
	return nil
}

func (p *provider) HasVar(scope vars.Scope, name string) (bool, error) {
	if scope == vars.ScopeProcess {
		_, ok := os.LookupEnv(name)
		return ok, nil
	}
	return p.store.Has(scope, name), nil
}

func (p *provider) Interpolate(tmpl string) (string, error) {
	return p.store.Interpolate(tmpl), nil
}

func (p *provider) EnvName() string        { return p.envName }
func (p *provider) CollectionName() string { return p.colName }
func (p *provider) Cwd() string            { return p.cwd }

// Dispatch executes a script-initiated request through the same
// dispatcher the runner uses, with store interpolation applied to the
// url and header values first.
func (p *provider) Dispatch(ctx context.Context, config map[string]any) (map[string]any, error) {
	if raw, ok := config["url"].(string); ok {
		config["url"] = p.store.Interpolate(raw)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for name, v := range headers {
			if s, ok := v.(string); ok {
				headers[name] = p.store.Interpolate(s)
			}
		}
	}
	req, err := httpexec.FromConfig(config)
	if err != nil {
		return nil, err
	}
	p.log.Debug("script dispatch",
		zap.String("method", req.Method),
		zap.String("url", req.URL))
	resp, err := p.dispatcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.ToMap(), nil
}

func (p *provider) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *provider) AddTestResult(r sandbox.TestResult) {
	p.tests = append(p.tests, r)
}

func (p *provider) AddAssertResult(r sandbox.AssertResult) {
	p.asserts = append(p.asserts, r)
}

func (p *provider) TestResults(ctx context.Context) ([]sandbox.TestResult, error) {
	return append([]sandbox.TestResult(nil), p.tests...), nil
}

func (p *provider) AssertResults(ctx context.Context) ([]sandbox.AssertResult, error) {
	return append([]sandbox.AssertResult(nil), p.asserts...), nil
}

func (p *provider) SkipRequest()   { p.skipped = true }
func (p *provider) StopExecution() { p.stopped = true }

func (p *provider) SetNextRequest(name string) {
	p.nextRequest = strings.TrimSpace(name)
}

func (p *provider) Visualize(html string) {
	p.visuals = append(p.visuals, html)
}
