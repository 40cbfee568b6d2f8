package variables

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateFormat is returned by Engine.Register when a data format
	// with the same name is already registered.
	ErrDuplicateFormat = errors.New("variables: data format already registered")

	// ErrUnknownFormat is returned when an object value names a
	// serialization data format that has no registered serializer.
	ErrUnknownFormat = errors.New("variables: unknown serialization data format")

	// ErrUnknownType is returned when an object type name cannot be
	// resolved to a Go type.
	ErrUnknownType = errors.New("variables: unknown object type")

	// ErrDuplicateType is returned by Types.Register for a name or Go type
	// that is already bound.
	ErrDuplicateType = errors.New("variables: object type already registered")

	// ErrDeserialization matches every *DeserializationError via errors.Is.
	ErrDeserialization = errors.New("variables: deserialization failed")

	// ErrNotFound is returned when a variable name is absent from a Map.
	ErrNotFound = errors.New("variables: variable not found")

	// ErrTypeMismatch is returned by As when the materialized value cannot
	// be converted to the requested Go type.
	ErrTypeMismatch = errors.New("variables: type mismatch")
)

// DeserializationError reports a payload that is present but could not be
// decoded into its declared object type. The ObjectValue it came from is
// left untouched, so the raw form stays available for inspection.
type DeserializationError struct {
	Format   string
	TypeName string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("variables: cannot deserialize %q from format %q: %v", e.TypeName, e.Format, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }
