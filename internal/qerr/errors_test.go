package qerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := New(ErrScriptExecution, "script evaluation failed")
		if err.GetCode() != ErrScriptExecution {
			t.Errorf("code = %q, want %q", err.GetCode(), ErrScriptExecution)
		}
		if err.GetMessage() != "script evaluation failed" {
			t.Errorf("message = %q", err.GetMessage())
		}
		if !strings.Contains(err.Error(), "[E1001]") {
			t.Errorf("Error() = %q, want code prefix", err.Error())
		}
	})

	t.Run("formatted message", func(t *testing.T) {
		err := Newf(ErrRequestNotFound, "request %q not found", "login")
		if !strings.Contains(err.Error(), `request "login" not found`) {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestContext(t *testing.T) {
	t.Run("sorted context output", func(t *testing.T) {
		err := New(ErrCapability, "capability failed").
			With("zeta", 1).
			With("alpha", 2)
		out := err.Error()
		if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
			t.Errorf("context keys not sorted: %q", out)
		}
	})

	t.Run("request and stage helpers", func(t *testing.T) {
		err := New(ErrScriptExecution, "boom").
			WithRequest("get user").
			WithStage("post-response")
		if err.GetContext()["request"] != "get user" {
			t.Error("request context missing")
		}
		if err.GetContext()["stage"] != "post-response" {
			t.Error("stage context missing")
		}
	})

	t.Run("helps accumulate", func(t *testing.T) {
		err := New(ErrUnknownScope, "unknown scope").
			WithHelp("valid scopes: environment, global, runtime").
			WithHelp("did you mean 'runtime'?")
		if len(err.Helps()) != 2 {
			t.Errorf("helps = %d, want 2", len(err.Helps()))
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("wraps cause", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Wrap(ErrDispatch, cause, "request dispatch failed")
		if !errors.Is(err, cause) {
			t.Error("errors.Is should match the cause")
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("Error() should include cause: %q", err.Error())
		}
	})

	t.Run("nil cause behaves like New", func(t *testing.T) {
		err := Wrap(ErrDispatch, nil, "no cause")
		if err.GetCause() != nil {
			t.Error("cause should be nil")
		}
	})
}

func TestCodeMatching(t *testing.T) {
	t.Run("Is matches by code", func(t *testing.T) {
		err := New(ErrScriptTimeout, "timed out")
		if !Is(err, ErrScriptTimeout) {
			t.Error("Is() should match code")
		}
		if Is(err, ErrScriptExecution) {
			t.Error("Is() should not match a different code")
		}
	})

	t.Run("code extraction through wrapping", func(t *testing.T) {
		inner := New(ErrMarshal, "bad value")
		outer := fmt.Errorf("outer: %w", inner)
		if GetErrorCode(outer) != ErrMarshal {
			t.Errorf("GetErrorCode = %q, want %q", GetErrorCode(outer), ErrMarshal)
		}
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		if HasCode(fmt.Errorf("plain")) {
			t.Error("plain error should have no code")
		}
	})
}
