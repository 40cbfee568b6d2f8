package variables

import (
	"fmt"
	"sort"
)

// Map holds the variables of one task by name.
type Map map[string]TypedValue

// Typed returns the typed value of name. With deserialize set, an
// object value is decoded before it is returned and a decode failure is
// reported; without it the value comes back exactly as fetched, carrying
// only its serialized form and metadata.
func (m Map) Typed(name string, deserialize bool) (TypedValue, error) {
	tv, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !deserialize {
		return tv, nil
	}
	if _, err := tv.Value(); err != nil {
		return tv, err
	}
	return tv, nil
}

// Value returns the materialized value of name.
func (m Map) Value(name string) (any, error) {
	tv, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tv.Value()
}

// Names returns the variable names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// As materializes tv and asserts it to T.
func As[T any](tv TypedValue) (T, error) {
	var zero T
	v, err := tv.Value()
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", ErrTypeMismatch, v, zero)
	}
	return out, nil
}

// Get reads name from m and asserts it to T.
func Get[T any](m Map, name string) (T, error) {
	var zero T
	tv, ok := m[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return As[T](tv)
}

// MapFromWire converts a fetched variable map. No object is decoded.
func (e *Engine) MapFromWire(in map[string]Wire) Map {
	out := make(Map, len(in))
	for name, w := range in {
		out[name] = e.FromWire(w)
	}
	return out
}

// MapToWire converts m into wire records.
func MapToWire(m Map) (map[string]Wire, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]Wire, len(m))
	for name, tv := range m {
		w, err := ToWire(tv)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		out[name] = w
	}
	return out, nil
}

// Typed converts a plain Go value into a TypedValue. TypedValues pass
// through unchanged, primitives are carried inline and everything else
// is encoded as an object value in format.
func (e *Engine) Typed(v any, format string) (TypedValue, error) {
	if tv, ok := v.(TypedValue); ok {
		return tv, nil
	}
	if p, ok := Primitive(v); ok {
		return p, nil
	}
	return e.Encode(v, format)
}
