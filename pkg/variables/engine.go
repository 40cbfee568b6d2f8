package variables

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Engine is the registry of serialization data formats. It decodes
// object values by looking up their format by name and encodes Go
// values into object values for outbound variables.
//
// An Engine is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	formats map[string]DataFormat
	types   *Types
}

// NewEngine returns an engine with the given formats registered.
func NewEngine(formats ...DataFormat) (*Engine, error) {
	e := &Engine{
		formats: make(map[string]DataFormat),
		types:   NewTypes(),
	}
	for _, f := range formats {
		if err := e.Register(f.Name(), f); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NewDefaultEngine returns an engine with the XML, JSON, gob, CBOR and
// protobuf formats registered under their Format* names.
func NewDefaultEngine() *Engine {
	cb, err := CBOR()
	if err != nil {
		// Default CBOR options are static and always valid.
		panic(err)
	}
	e, err := NewEngine(XML(), JSON(), Gob(), cb, Proto())
	if err != nil {
		panic(err)
	}
	return e
}

// Types returns the object type registry used to resolve type names.
func (e *Engine) Types() *Types { return e.types }

// Register adds a data format under name.
func (e *Engine) Register(name string, f DataFormat) error {
	if name == "" || f == nil {
		return fmt.Errorf("variables: invalid format registration %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.formats[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFormat, name)
	}
	e.formats[name] = f
	return nil
}

// Format returns the data format registered under name.
func (e *Engine) Format(name string) (DataFormat, error) {
	e.mu.RLock()
	f, ok := e.formats[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// Formats lists the registered format names in sorted order.
func (e *Engine) Formats() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.formats))
	for n := range e.formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Decode materializes ov without touching its cached state. Most callers
// want ov.Value(), which caches the result.
func (e *Engine) Decode(ov *ObjectValue) (any, error) {
	f, err := e.Format(ov.format)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (any, error) {
		return nil, &DeserializationError{Format: ov.format, TypeName: ov.typeName, Err: err}
	}

	target, byRegistry := e.types.New(ov.typeName)
	if !byRegistry {
		r, ok := f.(TypeResolver)
		if !ok {
			return fail(fmt.Errorf("%w: %q", ErrUnknownType, ov.typeName))
		}
		if target, ok = r.NewTarget(ov.typeName); !ok {
			return fail(fmt.Errorf("%w: %q", ErrUnknownType, ov.typeName))
		}
	}

	data := []byte(ov.serialized)
	if _, ok := f.(binaryFormat); ok {
		if data, err = base64.StdEncoding.DecodeString(ov.serialized); err != nil {
			return fail(fmt.Errorf("base64: %w", err))
		}
	}
	if err := f.Unmarshal(data, target); err != nil {
		return fail(err)
	}

	if byRegistry {
		return reflect.ValueOf(target).Elem().Interface(), nil
	}
	return target, nil
}

// Encode serializes v with the named format. The result is already
// deserialized: its Value returns v without decoding.
func (e *Engine) Encode(v any, format string) (*ObjectValue, error) {
	f, err := e.Format(format)
	if err != nil {
		return nil, err
	}
	typeName, err := e.typeNameOf(f, v)
	if err != nil {
		return nil, err
	}
	data, err := f.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("variables: serialize %q as %s: %w", typeName, format, err)
	}
	serialized := string(data)
	if _, ok := f.(binaryFormat); ok {
		serialized = base64.StdEncoding.EncodeToString(data)
	}
	return newDecodedObjectValue(v, serialized, typeName, format, e), nil
}

// Serialized wraps a raw payload received from the coordinator so that
// it decodes through this engine.
func (e *Engine) Serialized(serialized, typeName, format string) *ObjectValue {
	return NewSerializedObjectValue(serialized, typeName, format, e)
}

func (e *Engine) typeNameOf(f DataFormat, v any) (string, error) {
	if name, ok := e.types.NameOf(v); ok {
		return name, nil
	}
	if r, ok := f.(TypeResolver); ok {
		if name, ok := r.TypeNameOf(v); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no type name bound to %T", ErrUnknownType, v)
}
