// Package qerr provides standardized error handling for Quail.
// All errors have stable, machine-readable codes, structured context, and proper wrapping.
package qerr

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code represents a stable, machine-readable error code.
// Format: E{category}{number} where category is 1-9 and number is 001-999.
type Code string

// Error codes organized by category.
const (
	// Script errors (E1xxx) - problems with guest script execution
	ErrScriptExecution Code = "E1001" // Script evaluation failed
	ErrScriptTimeout   Code = "E1002" // Script evaluation timed out
	ErrScriptStalled   Code = "E1003" // Script awaits a value that can never settle
	ErrSessionState    Code = "E1004" // Session used in an invalid lifecycle state
	ErrSessionDisposed Code = "E1005" // Session already disposed

	// Capability errors (E2xxx) - problems in host operations called from the guest
	ErrCapability   Code = "E2001" // Capability invocation failed
	ErrUnknownScope Code = "E2002" // Variable scope is not recognized
	ErrBadArgument  Code = "E2003" // Guest passed an argument of the wrong shape

	// Marshalling errors (E3xxx) - boundary crossing problems
	// (lossy degradation is not an error; these cover unusable guest input)
	ErrMarshal Code = "E3001" // Value cannot be represented across the boundary

	// Dispatch errors (E4xxx) - problems performing network requests
	ErrDispatch        Code = "E4001" // Request dispatch failed
	ErrDispatchTimeout Code = "E4002" // Request dispatch timed out

	// Collection errors (E5xxx) - problems with collection and config files
	ErrCollectionInvalid   Code = "E5001" // Collection file is malformed
	ErrCollectionNotFound  Code = "E5002" // Collection file does not exist
	ErrEnvironmentNotFound Code = "E5003" // Named environment is not defined
	ErrRequestNotFound     Code = "E5004" // Named request is not in the collection
	ErrConfigInvalid       Code = "E5005" // quail.yaml is malformed

	// History errors (E6xxx) - problems with the local run-history store
	ErrHistoryInit  Code = "E6001" // History store initialization failed
	ErrHistoryWrite Code = "E6002" // Recording a run failed
	ErrHistoryRead  Code = "E6003" // Reading run history failed

	// Internal errors (E9xxx) - unexpected internal errors
	ErrInternal Code = "E9001" // Internal error
)

// Error is the standard error type for Quail.
// It provides structured error information with codes, context, and wrapping support.
type Error struct {
	code    Code           // Machine-readable error code
	message string         // Human-readable error message
	context map[string]any // Structured context data
	cause   error          // Wrapped underlying error
	stack   string         // Stack trace for debugging
}

// Error returns the formatted error string.
// Format:
//
//	[E2002] unknown variable scope
//	  request: get user
//	  scope: sekret
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.code, e.message))

	// Write context in sorted order for deterministic output
	if len(e.context) > 0 {
		keys := make([]string, 0, len(e.context))
		for k := range e.context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(fmt.Sprintf("\n  %s: %v", k, e.context[k]))
		}
	}

	if e.cause != nil {
		b.WriteString(fmt.Sprintf("\n  cause: %v", e.cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error for errors.Unwrap compatibility.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether the target error matches this error.
// It matches if target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	var targetErr *Error
	if errors.As(target, &targetErr) {
		return e.code == targetErr.code
	}

	return false
}

// GetCode returns the error code.
func (e *Error) GetCode() Code {
	return e.code
}

// GetMessage returns the error message.
func (e *Error) GetMessage() string {
	return e.message
}

// GetContext returns the error context map.
func (e *Error) GetContext() map[string]any {
	return e.context
}

// GetCause returns the underlying cause error.
func (e *Error) GetCause() error {
	return e.cause
}

// GetStack returns the stack trace.
func (e *Error) GetStack() string {
	return e.stack
}

// With adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) With(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// WithRequest adds the request name to the error context.
func (e *Error) WithRequest(name string) *Error {
	return e.With("request", name)
}

// WithStage adds the script lifecycle stage to the error context.
func (e *Error) WithStage(stage string) *Error {
	return e.With("stage", stage)
}

// WithFile adds file location context to the error.
func (e *Error) WithFile(path string, line int) *Error {
	e.With("file", path)
	if line > 0 {
		e.With("line", line)
	}
	return e
}

// WithLocation adds complete source location context (file, line, column).
func (e *Error) WithLocation(file string, line, col int) *Error {
	e.With("file", file)
	if line > 0 {
		e.With("line", line)
	}
	if col > 0 {
		e.With("column", col)
	}
	return e
}

// WithHelp adds a help suggestion to the error (displayed as "help: ...").
func (e *Error) WithHelp(help string) *Error {
	helps, _ := e.context["helps"].([]string)
	helps = append(helps, help)
	return e.With("helps", helps)
}

// Helps returns all help suggestions attached to this error.
func (e *Error) Helps() []string {
	helps, _ := e.context["helps"].([]string)
	return helps
}

// captureStack captures a stack trace for debugging.
func captureStack(skip int) string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		// Skip runtime internals
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}
		b.WriteString(fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return b.String()
}

// New creates a new Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		code:    code,
		message: fmt.Sprintf(format, args...),
		context: make(map[string]any),
		stack:   captureStack(3),
	}
}

// Wrap creates a new Error that wraps an existing error.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return New(code, msg)
	}
	return &Error{
		code:    code,
		message: msg,
		context: make(map[string]any),
		cause:   err,
		stack:   captureStack(3),
	}
}

// Wrapf creates a new Error that wraps an existing error with a formatted message.
func Wrapf(code Code, err error, format string, args ...any) *Error {
	return Wrap(code, err, fmt.Sprintf(format, args...))
}

// GetErrorCode extracts the error code from an error chain.
// Returns empty string if no code is found.
func GetErrorCode(err error) Code {
	if err == nil {
		return ""
	}

	var qe *Error
	if errors.As(err, &qe) {
		return qe.code
	}

	return ""
}

// Is checks if an error has the specified code.
func Is(err error, code Code) bool {
	return GetErrorCode(err) == code
}

// HasCode checks if an error has any error code.
func HasCode(err error) bool {
	return GetErrorCode(err) != ""
}
