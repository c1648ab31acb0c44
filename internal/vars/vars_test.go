package vars

import "testing"

func TestParseScope(t *testing.T) {
	t.Run("valid scopes", func(t *testing.T) {
		for _, name := range []string{
			"process", "environment", "global", "collection",
			"folder", "request", "runtime", "secret",
		} {
			if _, err := ParseScope(name); err != nil {
				t.Errorf("ParseScope(%q) error = %v", name, err)
			}
		}
	})

	t.Run("invalid scope", func(t *testing.T) {
		if _, err := ParseScope("sekret"); err == nil {
			t.Error("ParseScope should reject unknown scope")
		}
	})
}

func TestStore(t *testing.T) {
	t.Run("set get delete has", func(t *testing.T) {
		s := NewStore()
		if err := s.Set(ScopeRuntime, "x", 1); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		v, ok := s.Get(ScopeRuntime, "x")
		if !ok || v != 1 {
			t.Errorf("Get() = %v, %v", v, ok)
		}
		if !s.Has(ScopeRuntime, "x") {
			t.Error("Has() = false, want true")
		}
		s.Delete(ScopeRuntime, "x")
		if s.Has(ScopeRuntime, "x") {
			t.Error("Has() after Delete = true")
		}
	})

	t.Run("scopes are independent", func(t *testing.T) {
		s := NewStore()
		s.Set(ScopeGlobal, "token", "g")
		s.Set(ScopeEnvironment, "token", "e")
		if v, _ := s.Get(ScopeGlobal, "token"); v != "g" {
			t.Errorf("global token = %v", v)
		}
		if v, _ := s.Get(ScopeEnvironment, "token"); v != "e" {
			t.Errorf("environment token = %v", v)
		}
	})

	t.Run("seed replaces scope contents", func(t *testing.T) {
		s := NewStore()
		s.Set(ScopeEnvironment, "old", 1)
		s.Seed(ScopeEnvironment, map[string]any{"fresh": 2})
		if s.Has(ScopeEnvironment, "old") {
			t.Error("Seed should replace previous contents")
		}
		if !s.Has(ScopeEnvironment, "fresh") {
			t.Error("Seed should install new contents")
		}
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		s := NewStore()
		s.Set(ScopeRuntime, "a", 1)
		snap := s.Snapshot(ScopeRuntime)
		snap["a"] = 99
		if v, _ := s.Get(ScopeRuntime, "a"); v != 1 {
			t.Error("mutating snapshot should not affect store")
		}
	})
}

func TestResolve(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		s := NewStore()
		s.Set(ScopeGlobal, "host", "global.example.com")
		s.Set(ScopeEnvironment, "host", "env.example.com")
		s.Set(ScopeRuntime, "host", "runtime.example.com")

		v, ok := s.Resolve("host")
		if !ok || v != "runtime.example.com" {
			t.Errorf("Resolve = %v, want runtime value", v)
		}

		s.Delete(ScopeRuntime, "host")
		if v, _ := s.Resolve("host"); v != "env.example.com" {
			t.Errorf("Resolve = %v, want environment value", v)
		}
	})

	t.Run("secret scope is not resolved by templates", func(t *testing.T) {
		s := NewStore()
		s.Set(ScopeSecret, "apiKey", "hunter2")
		if _, ok := s.Resolve("apiKey"); ok {
			t.Error("secrets must not leak through template resolution")
		}
	})
}

func TestInterpolate(t *testing.T) {
	s := NewStore()
	s.Set(ScopeEnvironment, "host", "api.example.com")
	s.Set(ScopeRuntime, "id", 42)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "https://{{host}}/users", "https://api.example.com/users"},
		{"numeric value", "/users/{{id}}", "/users/42"},
		{"spaces inside braces", "{{ host }}", "api.example.com"},
		{"multiple placeholders", "{{host}}/{{id}}", "api.example.com/42"},
		{"unresolved stays literal", "{{missing}}/x", "{{missing}}/x"},
		{"unterminated stays literal", "a{{host", "a{{host"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Interpolate(tt.in); got != tt.want {
				t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"nil", nil, ""},
		{"number", 3.5, "3.5"},
		{"bool", true, "true"},
		{"object", map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
