package variables

import (
	"fmt"
	"time"
)

// ValueType names the wire type of a variable.
type ValueType string

const (
	TypeNull    ValueType = "Null"
	TypeString  ValueType = "String"
	TypeBoolean ValueType = "Boolean"
	TypeShort   ValueType = "Short"
	TypeInteger ValueType = "Integer"
	TypeLong    ValueType = "Long"
	TypeDouble  ValueType = "Double"
	TypeDate    ValueType = "Date"
	TypeBytes   ValueType = "Bytes"
	TypeJSON    ValueType = "Json"
	TypeXML     ValueType = "Xml"
	TypeObject  ValueType = "Object"
)

// IsPrimitive reports whether values of this type are carried inline
// without a serialization data format.
func (t ValueType) IsPrimitive() bool {
	return t != TypeObject
}

// TypedValue is a variable together with its type information.
//
// Primitive values are always materialized. Object values
// (*ObjectValue) carry their serialized form and decode it lazily on
// the first call to Value.
type TypedValue interface {
	Type() ValueType
	Value() (any, error)
	IsTransient() bool
}

// PrimitiveValue is a TypedValue whose value is carried inline.
type PrimitiveValue struct {
	typ       ValueType
	value     any
	transient bool
}

func (p PrimitiveValue) Type() ValueType     { return p.typ }
func (p PrimitiveValue) Value() (any, error) { return p.value, nil }
func (p PrimitiveValue) IsTransient() bool   { return p.transient }

// Transient returns a copy of p flagged as transient: the coordinator
// does not persist transient variables.
func (p PrimitiveValue) Transient() PrimitiveValue {
	p.transient = true
	return p
}

func (p PrimitiveValue) String() string {
	return fmt.Sprintf("%s(%v)", p.typ, p.value)
}

func Null() PrimitiveValue               { return PrimitiveValue{typ: TypeNull} }
func String(s string) PrimitiveValue     { return PrimitiveValue{typ: TypeString, value: s} }
func Boolean(b bool) PrimitiveValue      { return PrimitiveValue{typ: TypeBoolean, value: b} }
func Short(n int16) PrimitiveValue       { return PrimitiveValue{typ: TypeShort, value: n} }
func Integer(n int32) PrimitiveValue     { return PrimitiveValue{typ: TypeInteger, value: n} }
func Long(n int64) PrimitiveValue        { return PrimitiveValue{typ: TypeLong, value: n} }
func Double(f float64) PrimitiveValue    { return PrimitiveValue{typ: TypeDouble, value: f} }
func Date(t time.Time) PrimitiveValue    { return PrimitiveValue{typ: TypeDate, value: t} }
func Bytes(b []byte) PrimitiveValue      { return PrimitiveValue{typ: TypeBytes, value: b} }
func JSONString(s string) PrimitiveValue { return PrimitiveValue{typ: TypeJSON, value: s} }
func XMLString(s string) PrimitiveValue  { return PrimitiveValue{typ: TypeXML, value: s} }

// Primitive infers a PrimitiveValue from a plain Go value. It returns
// false for values that need an object serializer.
func Primitive(v any) (PrimitiveValue, bool) {
	switch x := v.(type) {
	case nil:
		return Null(), true
	case string:
		return String(x), true
	case bool:
		return Boolean(x), true
	case int16:
		return Short(x), true
	case int32:
		return Integer(x), true
	case int:
		return Long(int64(x)), true
	case int64:
		return Long(x), true
	case float32:
		return Double(float64(x)), true
	case float64:
		return Double(x), true
	case time.Time:
		return Date(x), true
	case []byte:
		return Bytes(x), true
	default:
		return PrimitiveValue{}, false
	}
}

// invalidValue holds a wire record that could not be parsed. The error
// surfaces when the variable is read, not when the task is delivered.
type invalidValue struct {
	typ ValueType
	err error
}

func (v invalidValue) Type() ValueType     { return v.typ }
func (v invalidValue) Value() (any, error) { return nil, v.err }
func (v invalidValue) IsTransient() bool   { return false }
