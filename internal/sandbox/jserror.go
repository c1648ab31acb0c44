package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/quailhq/quail/internal/marshal"
)

// ScriptError is the structured failure shape surfaced to the Script Runner
// when a guest script throws or its top-level promise rejects. Only the
// message is guaranteed; position and stack are filled in when the engine
// provides them.
type ScriptError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
	}
	return e.Message
}

// parseThrown extracts a ScriptError from an evaluation error returned by
// the engine. lineOffset converts wrapper line numbers back to script
// source line numbers.
func parseThrown(err error, lineOffset int) *ScriptError {
	if err == nil {
		return nil
	}

	if syntaxErr, ok := err.(*goja.CompilerSyntaxError); ok {
		se := &ScriptError{Message: syntaxErr.Error()}
		if syntaxErr.File != nil {
			pos := syntaxErr.File.Position(syntaxErr.Offset)
			se.Line = adjustLine(pos.Line, lineOffset)
			se.Column = pos.Column
		}
		return se
	}

	if exception, ok := err.(*goja.Exception); ok {
		se := valueToScriptError(exception.Value())
		se.Stack = exception.String()

		// Goja's structured stack frames; skip native frames (line 0)
		// to find the first guest call site.
		for _, frame := range exception.Stack() {
			pos := frame.Position()
			if pos.Line > 0 {
				se.Line = adjustLine(pos.Line, lineOffset)
				se.Column = pos.Column
				break
			}
		}
		return se
	}

	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return &ScriptError{Message: "execution interrupted: " + interrupted.String()}
	}

	return &ScriptError{Message: err.Error()}
}

// valueToScriptError normalizes a thrown guest value (or top-level
// rejection reason) into a ScriptError. Error instances keep their
// message and stack; anything else degrades through the codec's error
// normalization.
func valueToScriptError(v goja.Value) *ScriptError {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &ScriptError{Message: "unknown error"}
	}

	// Error objects carry message/stack as non-enumerable own properties,
	// so read them directly instead of exporting.
	if obj, ok := v.(*goja.Object); ok {
		se := &ScriptError{}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			se.Message = msg.String()
		}
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) && !goja.IsNull(stack) {
			se.Stack = stack.String()
		}
		if se.Message == "" {
			normalized := marshal.NormalizeError(marshal.ToHost(v))
			se.Message, _ = normalized["message"].(string)
		}
		return se
	}

	normalized := marshal.NormalizeError(marshal.ToHost(v))
	msg, _ := normalized["message"].(string)
	return &ScriptError{Message: msg}
}

func adjustLine(line, offset int) int {
	if offset > 0 && line > offset {
		return line - offset
	}
	return line
}
