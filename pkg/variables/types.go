package variables

import (
	"fmt"
	"reflect"
	"sync"
)

// Types binds object type names (the objectTypeName carried next to a
// serialized payload) to Go types, so a data format knows what to decode
// into. Lookups go by name in one direction and by Go type in the other.
type Types struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewTypes returns an empty type registry.
func NewTypes() *Types {
	return &Types{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds name to the Go type of sample. Pointer samples are
// dereferenced: decoded values are always returned by value.
func (t *Types) Register(name string, sample any) error {
	if name == "" {
		return fmt.Errorf("%w: empty type name", ErrUnknownType)
	}
	rt := reflect.TypeOf(sample)
	if rt == nil {
		return fmt.Errorf("%w: nil sample for %q", ErrUnknownType, name)
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	if prev, ok := t.byType[rt]; ok {
		return fmt.Errorf("%w: %s already bound to %s", ErrDuplicateType, rt, prev)
	}
	t.byName[name] = rt
	t.byType[rt] = name
	return nil
}

// New returns a pointer to a fresh zero value of the type bound to name.
func (t *Types) New(name string) (any, bool) {
	t.mu.RLock()
	rt, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reflect.New(rt).Interface(), true
}

// NameOf returns the type name bound to the Go type of v.
func (t *Types) NameOf(v any) (string, bool) {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return "", false
	}
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byType[rt]
	return name, ok
}

// RegisterType binds name to T on the engine's type registry.
//
//	variables.RegisterType[Invoice](engine, "com.acme.Invoice")
func RegisterType[T any](e *Engine, name string) error {
	var zero T
	return e.Types().Register(name, &zero)
}
