package sandbox

import (
	"context"
	"time"

	"github.com/quailhq/quail/internal/vars"
)

// Test statuses recorded through the test-result sink.
const (
	TestPass = "pass"
	TestFail = "fail"
)

// TestResult is one named test outcome registered by a script.
type TestResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AssertResult is one assertion outcome registered by a script.
type AssertResult struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// Provider is the host-side capability provider behind the guest surface.
// It is the only path by which guest code can observe or mutate host state:
// every method corresponds to exactly one guest-callable operation, and the
// surface builder wraps each one with codec marshalling.
//
// Methods taking a context are asynchronous from the guest's point of view
// and are routed through the async bridge; the rest complete synchronously
// within a single guest call.
type Provider interface {
	// Variable access, parameterized by scope. A missing variable is
	// (nil, nil), not an error.
	GetVar(scope vars.Scope, name string) (any, error)
	SetVar(scope vars.Scope, name string, value any) error
	DeleteVar(scope vars.Scope, name string) error
	HasVar(scope vars.Scope, name string) (bool, error)

	// Introspection.
	Interpolate(tmpl string) (string, error)
	EnvName() string
	CollectionName() string
	Cwd() string

	// Dispatch performs a nested request described by a guest config
	// object and returns a response snapshot (status, statusText,
	// headers, body, duration).
	Dispatch(ctx context.Context, config map[string]any) (map[string]any, error)

	// Sleep delays for the given duration.
	Sleep(ctx context.Context, d time.Duration) error

	// Test and assertion sinks, and their asynchronous readbacks.
	AddTestResult(r TestResult)
	AddAssertResult(r AssertResult)
	TestResults(ctx context.Context) ([]TestResult, error)
	AssertResults(ctx context.Context) ([]AssertResult, error)

	// Run-control signals. These are plain capability calls interpreted
	// by the host; they never terminate the guest interpreter.
	SkipRequest()
	StopExecution()
	SetNextRequest(name string)

	// Visualize stores an HTML fragment for later display.
	Visualize(html string)
}
