// Package vars provides the scoped variable store backing script capability
// calls and template interpolation.
package vars

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quailhq/quail/internal/qerr"
)

// Scope is a named tier of variable storage with independent visibility rules.
type Scope string

const (
	ScopeProcess     Scope = "process"
	ScopeEnvironment Scope = "environment"
	ScopeGlobal      Scope = "global"
	ScopeCollection  Scope = "collection"
	ScopeFolder      Scope = "folder"
	ScopeRequest     Scope = "request"
	ScopeRuntime     Scope = "runtime"
	ScopeSecret      Scope = "secret"
)

// scopes lists every valid scope.
var scopes = []Scope{
	ScopeProcess,
	ScopeEnvironment,
	ScopeGlobal,
	ScopeCollection,
	ScopeFolder,
	ScopeRequest,
	ScopeRuntime,
	ScopeSecret,
}

// precedence is the lookup order used by Resolve and Interpolate:
// more specific scopes shadow less specific ones. Secrets are resolved
// only by explicit accessors, never by template lookup.
var precedence = []Scope{
	ScopeRuntime,
	ScopeRequest,
	ScopeFolder,
	ScopeEnvironment,
	ScopeCollection,
	ScopeGlobal,
	ScopeProcess,
}

// ParseScope converts a string to a Scope.
func ParseScope(s string) (Scope, error) {
	for _, sc := range scopes {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", qerr.Newf(qerr.ErrUnknownScope, "unknown variable scope %q", s).
		WithHelp("valid scopes: process, environment, global, collection, folder, request, runtime, secret")
}

// Store holds variables for every scope of one run sequence.
//
// The store carries no lock: exactly one script executes per session and
// sessions within a run sequence are strictly sequential, so there is
// never a concurrent writer.
type Store struct {
	values map[Scope]map[string]any
}

// NewStore creates an empty store with all scopes initialized.
func NewStore() *Store {
	values := make(map[Scope]map[string]any, len(scopes))
	for _, sc := range scopes {
		values[sc] = make(map[string]any)
	}
	return &Store{values: values}
}

// Get returns the value of a variable in the given scope.
// The second return reports whether the variable exists.
func (s *Store) Get(scope Scope, name string) (any, bool) {
	m, ok := s.values[scope]
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Set stores a variable in the given scope.
func (s *Store) Set(scope Scope, name string, value any) error {
	m, ok := s.values[scope]
	if !ok {
		return qerr.Newf(qerr.ErrUnknownScope, "unknown variable scope %q", scope)
	}
	m[name] = value
	return nil
}

// Delete removes a variable from the given scope.
func (s *Store) Delete(scope Scope, name string) {
	if m, ok := s.values[scope]; ok {
		delete(m, name)
	}
}

// Has reports whether a variable exists in the given scope.
func (s *Store) Has(scope Scope, name string) bool {
	_, ok := s.Get(scope, name)
	return ok
}

// Seed replaces the contents of a scope with the given values.
// Used by the runner to install environment and request-level variables
// before a session starts.
func (s *Store) Seed(scope Scope, values map[string]any) {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	s.values[scope] = m
}

// Snapshot returns a copy of one scope's variables.
func (s *Store) Snapshot(scope Scope) map[string]any {
	src := s.values[scope]
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Clear empties a single scope.
func (s *Store) Clear(scope Scope) {
	s.values[scope] = make(map[string]any)
}

// Resolve looks a name up across scopes in precedence order
// (runtime > request > folder > environment > collection > global > process).
func (s *Store) Resolve(name string) (any, bool) {
	for _, sc := range precedence {
		if v, ok := s.Get(sc, name); ok {
			return v, true
		}
	}
	return nil, false
}

// Interpolate replaces {{name}} placeholders with resolved variable values.
// Unresolvable placeholders are left untouched so partially templated
// strings survive a run without variables configured.
func (s *Store) Interpolate(tmpl string) string {
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start
		out.WriteString(rest[:start])

		name := strings.TrimSpace(rest[start+2 : end])
		if v, ok := s.Resolve(name); ok {
			out.WriteString(Stringify(v))
		} else {
			out.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return out.String()
}

// Stringify renders a variable value for template substitution.
// Strings pass through, everything else renders as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
