package variables

import (
	"errors"
	"fmt"
	"sync"
)

type decodeState int

const (
	stateRaw decodeState = iota
	stateDecoding
	stateDecoded
)

// Decoder materializes an object value from its serialized form. *Engine
// is the implementation used by fetched tasks.
type Decoder interface {
	Decode(ov *ObjectValue) (any, error)
}

// ObjectValue is a serialized object together with the metadata needed
// to decode it: the object type name and the serialization data format.
//
// The serialized form is immutable. Decoding happens on the first Value
// call and the result is cached; concurrent callers wait for the decode
// in progress instead of decoding twice. A failed decode leaves the
// value in its raw state, so a later call can try again.
type ObjectValue struct {
	serialized string
	typeName   string
	format     string
	transient  bool

	decoder Decoder

	mu    sync.Mutex
	cond  *sync.Cond
	state decodeState
	value any
}

// NewSerializedObjectValue wraps a serialized payload. The value decodes
// through d on first access; a nil d makes Value fail with
// ErrUnknownFormat.
func NewSerializedObjectValue(serialized, typeName, format string, d Decoder) *ObjectValue {
	ov := &ObjectValue{
		serialized: serialized,
		typeName:   typeName,
		format:     format,
		decoder:    d,
	}
	ov.cond = sync.NewCond(&ov.mu)
	return ov
}

// newDecodedObjectValue builds a value that already holds both forms,
// as produced by Engine.Encode.
func newDecodedObjectValue(v any, serialized, typeName, format string, d Decoder) *ObjectValue {
	ov := NewSerializedObjectValue(serialized, typeName, format, d)
	ov.state = stateDecoded
	ov.value = v
	return ov
}

func (o *ObjectValue) Type() ValueType { return TypeObject }

func (o *ObjectValue) IsTransient() bool { return o.transient }

// ObjectTypeName is the logical type identifier of the payload.
func (o *ObjectValue) ObjectTypeName() string { return o.typeName }

// SerializationDataFormat names the format the payload is encoded in.
func (o *ObjectValue) SerializationDataFormat() string { return o.format }

// ValueSerialized returns the raw serialized payload. It never triggers
// decoding.
func (o *ObjectValue) ValueSerialized() string { return o.serialized }

// IsDeserialized reports whether a decoded value is cached.
func (o *ObjectValue) IsDeserialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == stateDecoded
}

// Transient returns a copy of o flagged as transient, keeping any cached
// value.
func (o *ObjectValue) Transient() *ObjectValue {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := NewSerializedObjectValue(o.serialized, o.typeName, o.format, o.decoder)
	cp.transient = true
	if o.state == stateDecoded {
		cp.state = stateDecoded
		cp.value = o.value
	}
	return cp
}

// Value returns the decoded object, decoding it on first use. Every call
// after a successful decode returns the same instance.
func (o *ObjectValue) Value() (any, error) {
	o.mu.Lock()
	for o.state == stateDecoding {
		o.cond.Wait()
	}
	if o.state == stateDecoded {
		v := o.value
		o.mu.Unlock()
		return v, nil
	}
	o.state = stateDecoding
	o.mu.Unlock()

	v, err := o.decode()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = stateRaw
	} else {
		o.state = stateDecoded
		o.value = v
	}
	o.cond.Broadcast()
	return v, err
}

func (o *ObjectValue) decode() (v any, err error) {
	if o.decoder == nil {
		return nil, fmt.Errorf("%w: %q (no decoder attached)", ErrUnknownFormat, o.format)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &DeserializationError{Format: o.format, TypeName: o.typeName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return o.decoder.Decode(o)
}

func (o *ObjectValue) String() string {
	return fmt.Sprintf("Object(%s, %s, deserialized=%t)", o.typeName, o.format, o.IsDeserialized())
}

// IsDecodeError reports whether err came from decoding a variable, as
// opposed to a missing variable.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDeserialization) || errors.Is(err, ErrUnknownFormat)
}
