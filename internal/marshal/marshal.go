// Package marshal converts values between host representation and guest
// (goja) representation at the sandbox boundary.
//
// The canonical host form of any boundary value is a JSON tree: nil, bool,
// float64, string, []any and map[string]any. Values that fail structural
// conversion are deep-copied through a serialize/deserialize round trip that
// drops non-serializable members instead of failing the whole call. This is
// a deliberate best-effort policy: user scripts stay resilient to rich host
// objects, at the price of silently degraded shapes.
package marshal

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// ToGuest converts a host value to a guest value on the given runtime.
// Plain containers convert structurally with sorted map keys; anything
// else degrades through Sanitize first.
func ToGuest(vm *goja.Runtime, v any) goja.Value {
	return toGuest(vm, Sanitize(v))
}

// toGuest builds guest values from an already-sanitized JSON tree.
func toGuest(vm *goja.Runtime, v any) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case map[string]any:
		obj := vm.NewObject()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Sorted keys keep guest-visible enumeration deterministic.
		sort.Strings(keys)
		for _, k := range keys {
			_ = obj.Set(k, toGuest(vm, val[k]))
		}
		return obj
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = toGuest(vm, item)
		}
		return vm.ToValue(items)
	default:
		return vm.ToValue(val)
	}
}

// ToHost converts a guest value to its canonical host form.
// Functions, symbols and other non-serializable members are dropped.
func ToHost(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return Sanitize(v.Export())
}

// ToHostSafeCircular converts a guest value to host form after breaking
// reference cycles, for values that will be re-marshalled later (e.g.
// response payloads with repeated nested structures). Repeated references
// that are not cycles survive as copies.
func ToHostSafeCircular(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return Sanitize(BreakCycles(v.Export()))
}

// Sanitize deep-copies a value into the canonical JSON tree form.
// The fast path is a JSON round trip; when the value as a whole cannot be
// serialized (unsupported types, cycles), it is walked reflectively and
// offending members are dropped rather than failing.
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	if b, err := json.Marshal(v); err == nil {
		var out any
		if err := json.Unmarshal(b, &out); err == nil {
			return out
		}
	}
	return sanitizeValue(reflect.ValueOf(v), make(map[uintptr]bool))
}

// sanitizeValue is the degraded path: convert what can be converted,
// drop what cannot. seen guards against reference cycles.
func sanitizeValue(rv reflect.Value, seen map[uintptr]bool) any {
	if !rv.IsValid() {
		return nil
	}

	// Errors degrade to a plain {message} object.
	if rv.CanInterface() {
		if err, ok := rv.Interface().(error); ok && err != nil {
			return map[string]any{"message": err.Error()}
		}
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if seen[ptr] {
				return nil
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return sanitizeValue(rv.Elem(), seen)
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return nil
			}
			ptr := rv.Pointer()
			if seen[ptr] {
				return nil
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, sanitizeValue(rv.Index(i), seen))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return nil
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			ks, ok := key.Interface().(string)
			if !ok {
				ks = fmt.Sprint(key.Interface())
			}
			out[ks] = sanitizeValue(rv.MapIndex(key), seen)
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if comma := strings.IndexByte(tag, ','); comma >= 0 {
					tag = tag[:comma]
				}
				if tag != "" {
					name = tag
				}
			}
			out[name] = sanitizeValue(rv.Field(i), seen)
		}
		return out
	default:
		// Funcs, chans, unsafe pointers: not representable, dropped.
		return nil
	}
}

// BreakCycles returns a copy of v with reference cycles severed.
// A member that refers back to one of its ancestors becomes nil; repeated
// references that do not form a cycle are kept.
func BreakCycles(v any) any {
	return breakCycles(v, make(map[uintptr]bool))
}

func breakCycles(v any, ancestors map[uintptr]bool) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if ancestors[ptr] {
			return nil
		}
		ancestors[ptr] = true
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = breakCycles(item, ancestors)
		}
		delete(ancestors, ptr)
		return out
	case []any:
		ptr := reflect.ValueOf(val).Pointer()
		if ancestors[ptr] {
			return nil
		}
		ancestors[ptr] = true
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = breakCycles(item, ancestors)
		}
		delete(ancestors, ptr)
		return out
	default:
		return v
	}
}

// NormalizeError converts any host error or thrown guest value into the
// plain {message} object shape that crosses the boundary. The message is
// always non-empty; full error class identity is not preserved.
func NormalizeError(v any) map[string]any {
	const fallback = "unknown error"

	switch val := v.(type) {
	case nil:
		return map[string]any{"message": fallback}
	case error:
		msg := val.Error()
		if msg == "" {
			msg = fallback
		}
		return map[string]any{"message": msg}
	case string:
		if val == "" {
			val = fallback
		}
		return map[string]any{"message": val}
	case map[string]any:
		out, _ := Sanitize(val).(map[string]any)
		if out == nil {
			out = make(map[string]any)
		}
		if msg, ok := out["message"].(string); !ok || msg == "" {
			if name, ok := out["name"].(string); ok && name != "" {
				out["message"] = name
			} else {
				out["message"] = fallback
			}
		}
		return out
	default:
		sanitized := Sanitize(v)
		if m, ok := sanitized.(map[string]any); ok {
			return NormalizeError(m)
		}
		return map[string]any{"message": fmt.Sprint(sanitized)}
	}
}
