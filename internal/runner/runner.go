// Package runner executes collection requests in sequence, running each
// request's scripts in isolated sandbox sessions and collecting the test
// and assertion outcomes into a run report.
package runner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quailhq/quail/internal/collection"
	"github.com/quailhq/quail/internal/httpexec"
	"github.com/quailhq/quail/internal/qerr"
	"github.com/quailhq/quail/internal/sandbox"
	"github.com/quailhq/quail/internal/vars"
)

// RequestResult is the outcome of one executed request.
type RequestResult struct {
	Name       string
	Method     string
	URL        string
	Skipped    bool
	StatusCode int
	Status     string
	Duration   time.Duration
	Tests      []sandbox.TestResult
	Asserts    []sandbox.AssertResult
	Visuals    []string
	Err        error
}

// Failed reports whether the request errored or any of its tests or
// assertions failed.
func (r *RequestResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, t := range r.Tests {
		if t.Status == sandbox.TestFail {
			return true
		}
	}
	for _, a := range r.Asserts {
		if !a.Passed {
			return true
		}
	}
	return false
}

// RunResult is the outcome of one collection run.
type RunResult struct {
	ID          string
	Collection  string
	Environment string
	StartedAt   time.Time
	Duration    time.Duration
	Stopped     bool
	Requests    []RequestResult
}

// Counts returns the number of passed and failed requests, excluding
// skipped ones.
func (r *RunResult) Counts() (passed, failed int) {
	for i := range r.Requests {
		if r.Requests[i].Skipped {
			continue
		}
		if r.Requests[i].Failed() {
			failed++
		} else {
			passed++
		}
	}
	return passed, failed
}

// Runner drives a loaded collection against one environment.
type Runner struct {
	col        *collection.Collection
	store      *vars.Store
	dispatcher httpexec.Dispatcher
	log        *zap.Logger
	envName    string
	timeout    time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithDispatcher replaces the default HTTP dispatcher.
func WithDispatcher(d httpexec.Dispatcher) Option {
	return func(r *Runner) { r.dispatcher = d }
}

// WithLogger sets the runner's logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithScriptTimeout sets the per-script evaluation timeout.
func WithScriptTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// New builds a runner over a collection and one of its environments.
// An empty environment name runs with collection variables only.
func New(col *collection.Collection, envName string, opts ...Option) (*Runner, error) {
	r := &Runner{
		col:        col,
		store:      vars.NewStore(),
		dispatcher: httpexec.NewClient(),
		log:        zap.NewNop(),
		envName:    envName,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.store.Seed(vars.ScopeCollection, col.Vars)
	if envName != "" {
		env, err := col.Environment(envName)
		if err != nil {
			return nil, err
		}
		r.store.Seed(vars.ScopeEnvironment, env.Vars)
		r.store.Seed(vars.ScopeSecret, env.Secrets)
	}
	return r, nil
}

// Store exposes the runner's variable store. Runtime and global
// mutations made by scripts stay visible here after a run.
func (r *Runner) Store() *vars.Store {
	return r.store
}

// Run executes the collection sequence. Scripts steer the sequence
// through skip, stop and next-request signals; an erroring request is
// reported and the run continues.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	entries := r.col.Sequence()
	result := &RunResult{
		ID:          uuid.NewString(),
		Collection:  r.col.Name,
		Environment: r.envName,
		StartedAt:   time.Now(),
	}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	index := map[string]int{}
	for i, entry := range entries {
		index[entry.Request.Name] = i
	}

	for i := 0; i >= 0 && i < len(entries); {
		if err := ctx.Err(); err != nil {
			return result, qerr.Wrap(qerr.ErrInternal, err, "run interrupted")
		}
		entry := entries[i]
		rr, signals := r.executeEntry(ctx, entry)
		result.Requests = append(result.Requests, rr)

		if signals.stopped {
			result.Stopped = true
			break
		}
		if signals.nextRequest != "" {
			next, ok := index[signals.nextRequest]
			if !ok {
				result.Requests[len(result.Requests)-1].Err = qerr.
					Newf(qerr.ErrRequestNotFound, "next request %q not defined", signals.nextRequest).
					WithRequest(entry.Request.Name)
				break
			}
			i = next
			continue
		}
		i++
	}
	return result, nil
}

// RunRequest executes a single named request.
func (r *Runner) RunRequest(ctx context.Context, name string) (*RunResult, error) {
	entry, err := r.col.Find(name)
	if err != nil {
		return nil, err
	}
	result := &RunResult{
		ID:          uuid.NewString(),
		Collection:  r.col.Name,
		Environment: r.envName,
		StartedAt:   time.Now(),
	}
	rr, _ := r.executeEntry(ctx, entry)
	result.Requests = append(result.Requests, rr)
	result.Duration = time.Since(result.StartedAt)
	return result, nil
}

// signals carries the sequence-control state scripts set during one
// request's stages.
type signals struct {
	stopped     bool
	nextRequest string
}

func (r *Runner) executeEntry(ctx context.Context, entry collection.Entry) (RequestResult, signals) {
	req := entry.Request
	rr := RequestResult{Name: req.Name, Method: req.Method, URL: req.URL}
	if rr.Method == "" {
		rr.Method = "GET"
	}
	start := time.Now()
	defer func() { rr.Duration = time.Since(start) }()

	// Request and folder scopes hold only this entry's declarations.
	r.store.Clear(vars.ScopeRequest)
	r.store.Clear(vars.ScopeFolder)
	if entry.Folder != nil {
		r.store.Seed(vars.ScopeFolder, entry.Folder.Vars)
	}
	r.store.Seed(vars.ScopeRequest, req.Vars)

	p := &provider{
		store:      r.store,
		dispatcher: r.dispatcher,
		envName:    r.envName,
		colName:    r.col.Name,
		cwd:        r.col.Dir,
		log:        r.log,
	}

	// Pre-request stage: collection, then folder, then request scripts in
	// one session.
	pre := r.stageSources(entry, func(s collection.Script) string { return s.PreRequest })
	if err := r.runStage(ctx, p, "pre-request", req.Name, pre); err != nil {
		rr.Err = err
		return rr, signals{stopped: p.stopped, nextRequest: p.nextRequest}
	}
	if p.stopped || p.skipped {
		rr.Skipped = p.skipped
		rr.Tests, rr.Asserts, rr.Visuals = p.tests, p.asserts, p.visuals
		return rr, signals{stopped: p.stopped, nextRequest: p.nextRequest}
	}

	resp, dispatchErr := r.dispatch(ctx, p, req)
	var resSnapshot map[string]any
	if dispatchErr != nil {
		rr.Err = dispatchErr
	} else {
		rr.StatusCode = resp.StatusCode
		rr.Status = resp.Status
		resSnapshot = resp.ToMap()
	}

	// Post-response and tests stages see the request and response
	// snapshots; they still run after a dispatch failure so scripts can
	// record assertions about it, with res absent.
	reqSnapshot := map[string]any{
		"name":    req.Name,
		"method":  rr.Method,
		"url":     r.store.Interpolate(req.URL),
		"headers": interpolatedHeaders(r.store, req.Headers),
	}
	opts := []sandbox.Option{sandbox.WithRequest(reqSnapshot)}
	if resSnapshot != nil {
		opts = append(opts, sandbox.WithResponse(resSnapshot))
	}

	post := r.stageSources(entry, func(s collection.Script) string { return s.PostResponse })
	if err := r.runStage(ctx, p, "post-response", req.Name, post, opts...); err != nil && rr.Err == nil {
		rr.Err = err
	}
	tests := r.stageSources(entry, func(s collection.Script) string { return s.Tests })
	if err := r.runStage(ctx, p, "tests", req.Name, tests, opts...); err != nil && rr.Err == nil {
		rr.Err = err
	}

	rr.Tests, rr.Asserts, rr.Visuals = p.tests, p.asserts, p.visuals
	return rr, signals{stopped: p.stopped, nextRequest: p.nextRequest}
}

// stageSources concatenates the collection, folder and request scripts
// for one stage, outermost first.
func (r *Runner) stageSources(entry collection.Entry, pick func(collection.Script) string) string {
	var parts []string
	if src := pick(r.col.Script); src != "" {
		parts = append(parts, src)
	}
	if entry.Folder != nil {
		if src := pick(entry.Folder.Script); src != "" {
			parts = append(parts, src)
		}
	}
	if src := pick(entry.Request.Script); src != "" {
		parts = append(parts, src)
	}
	return strings.Join(parts, "\n")
}

// runStage evaluates one stage's script in a fresh session. Empty
// sources run nothing.
func (r *Runner) runStage(ctx context.Context, p *provider, stage, reqName, source string, opts ...sandbox.Option) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	opts = append(opts, sandbox.WithTimeout(r.timeout))
	sess, err := sandbox.New(p, opts...)
	if err != nil {
		return err
	}
	defer sess.Dispose()

	res := sess.Evaluate(ctx, source)
	if res.Failed() {
		r.log.Warn("script stage failed",
			zap.String("request", reqName),
			zap.String("stage", stage),
			zap.String("error", res.Err.Message))
		return qerr.New(qerr.ErrScriptExecution, res.Err.Error()).
			WithRequest(reqName).
			WithStage(stage)
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, p *provider, req *collection.Request) (*httpexec.Response, error) {
	out := &httpexec.Request{
		Method:  req.Method,
		URL:     r.store.Interpolate(req.URL),
		Headers: interpolatedHeaders(r.store, req.Headers),
		Body:    interpolatedBody(r.store, req.Body),
	}
	r.log.Info("dispatching request",
		zap.String("request", req.Name),
		zap.String("method", out.Method),
		zap.String("url", out.URL))
	resp, err := p.dispatcher.Do(ctx, out)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func interpolatedHeaders(store *vars.Store, headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, v := range headers {
		out[name] = store.Interpolate(v)
	}
	return out
}

func interpolatedBody(store *vars.Store, body any) any {
	if s, ok := body.(string); ok {
		return store.Interpolate(s)
	}
	return body
}
