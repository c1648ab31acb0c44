package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/quailhq/quail/internal/history"
	"github.com/quailhq/quail/internal/runner"
	"github.com/quailhq/quail/internal/sandbox"
)

func TestMain(m *testing.M) {
	// Reports are asserted on content, not escape codes.
	SetTheme(PlainTheme())
	m.Run()
}

func TestRenderRun(t *testing.T) {
	res := &runner.RunResult{
		ID:          "run-1",
		Collection:  "petstore",
		Environment: "dev",
		Duration:    1234 * time.Millisecond,
		Requests: []runner.RequestResult{
			{
				Name:       "list-pets",
				StatusCode: 200,
				Duration:   120 * time.Millisecond,
				Tests: []sandbox.TestResult{
					{Name: "lists", Status: sandbox.TestPass},
					{Name: "sorted", Status: sandbox.TestFail, Error: "out of order"},
				},
				Asserts: []sandbox.AssertResult{
					{Description: "has items", Passed: true},
				},
			},
			{Name: "flaky", Skipped: true},
		},
	}

	out := RenderRun(res)
	for _, want := range []string{
		"petstore (dev)",
		"list-pets",
		"[200]",
		"lists",
		"sorted: out of order",
		"has items",
		"flaky",
		"skipped",
		"0 passed, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRunStopped(t *testing.T) {
	res := &runner.RunResult{
		Collection: "api",
		Stopped:    true,
		Requests: []runner.RequestResult{
			{Name: "only", StatusCode: 200},
		},
	}
	out := RenderRun(res)
	if !strings.Contains(out, "stopped early") {
		t.Errorf("report missing stop notice:\n%s", out)
	}
	if !strings.Contains(out, "1 passed, 0 failed") {
		t.Errorf("report missing summary:\n%s", out)
	}
}

func TestRenderHistory(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if out := RenderHistory(nil); !strings.Contains(out, "no runs recorded") {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("entries", func(t *testing.T) {
		out := RenderHistory([]history.Entry{
			{
				ID:          "run-1",
				Collection:  "petstore",
				Environment: "dev",
				StartedAt:   time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC),
				Passed:      3,
				Failed:      1,
			},
		})
		for _, want := range []string{"petstore", "(dev)", "3 passed, 1 failed", "run-1"} {
			if !strings.Contains(out, want) {
				t.Errorf("history missing %q:\n%s", want, out)
			}
		}
	})
}

func TestOneLine(t *testing.T) {
	long := "<table>\n  " + strings.Repeat("<tr><td>x</td></tr> ", 20) + "</table>"
	flat := oneLine(long)
	if strings.ContainsAny(flat, "\n") {
		t.Error("visual fragment should collapse to one line")
	}
	if len(flat) > 80 {
		t.Errorf("len = %d", len(flat))
	}
}
