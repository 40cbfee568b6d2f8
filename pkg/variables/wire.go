package variables

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire layout of Date values.
const DateLayout = "2006-01-02T15:04:05.000-0700"

// ValueInfo carries the type metadata of a wire value.
type ValueInfo struct {
	ObjectTypeName          string `json:"objectTypeName,omitempty"`
	SerializationDataFormat string `json:"serializationDataFormat,omitempty"`
	Transient               bool   `json:"transient,omitempty"`
}

// Wire is the coordinator's representation of one variable. Object
// values carry their serialized payload as a JSON string in Value.
type Wire struct {
	Type      ValueType       `json:"type"`
	Value     json.RawMessage `json:"value"`
	ValueInfo ValueInfo       `json:"valueInfo,omitzero"`
}

// FromWire converts a wire record into a TypedValue. It never fails: a
// record that cannot be parsed becomes a value whose Value method
// returns the parse error, so a bad variable only affects its readers.
// Object payloads are not decoded here.
func (e *Engine) FromWire(w Wire) TypedValue {
	tv, err := e.fromWire(w)
	if err != nil {
		return invalidValue{typ: w.Type, err: err}
	}
	return tv
}

func (e *Engine) fromWire(w Wire) (TypedValue, error) {
	transient := w.ValueInfo.Transient
	isNull := len(w.Value) == 0 || string(w.Value) == "null"

	if w.Type == TypeObject {
		var serialized string
		if !isNull {
			if err := json.Unmarshal(w.Value, &serialized); err != nil {
				return nil, &DeserializationError{
					Format:   w.ValueInfo.SerializationDataFormat,
					TypeName: w.ValueInfo.ObjectTypeName,
					Err:      fmt.Errorf("object payload is not a string: %w", err),
				}
			}
		}
		ov := e.Serialized(serialized, w.ValueInfo.ObjectTypeName, w.ValueInfo.SerializationDataFormat)
		ov.transient = transient
		return ov, nil
	}

	if isNull && w.Type != TypeNull {
		return PrimitiveValue{typ: w.Type, transient: transient}, nil
	}

	var (
		v   any
		err error
	)
	switch w.Type {
	case TypeNull:
		v = nil
	case TypeString, TypeJSON, TypeXML:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = s
	case TypeBoolean:
		var b bool
		err = json.Unmarshal(w.Value, &b)
		v = b
	case TypeShort:
		var n int16
		err = json.Unmarshal(w.Value, &n)
		v = n
	case TypeInteger:
		var n int32
		err = json.Unmarshal(w.Value, &n)
		v = n
	case TypeLong:
		var n int64
		err = json.Unmarshal(w.Value, &n)
		v = n
	case TypeDouble:
		var f float64
		err = json.Unmarshal(w.Value, &f)
		v = f
	case TypeBytes:
		var b []byte
		err = json.Unmarshal(w.Value, &b)
		v = b
	case TypeDate:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			v, err = time.Parse(DateLayout, s)
		}
	default:
		return nil, fmt.Errorf("variables: unsupported value type %q", w.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("variables: malformed %s value: %w", w.Type, err)
	}
	return PrimitiveValue{typ: w.Type, value: v, transient: transient}, nil
}

// ToWire converts a TypedValue into its wire record. Object values are
// sent in their serialized form as-is.
func ToWire(tv TypedValue) (Wire, error) {
	switch x := tv.(type) {
	case *ObjectValue:
		raw, err := json.Marshal(x.serialized)
		if err != nil {
			return Wire{}, err
		}
		return Wire{
			Type:  TypeObject,
			Value: raw,
			ValueInfo: ValueInfo{
				ObjectTypeName:          x.typeName,
				SerializationDataFormat: x.format,
				Transient:               x.transient,
			},
		}, nil
	case PrimitiveValue:
		var (
			raw []byte
			err error
		)
		switch val := x.value.(type) {
		case time.Time:
			raw, err = json.Marshal(val.Format(DateLayout))
		default:
			raw, err = json.Marshal(val)
		}
		if err != nil {
			return Wire{}, fmt.Errorf("variables: encode %s value: %w", x.typ, err)
		}
		return Wire{Type: x.typ, Value: raw, ValueInfo: ValueInfo{Transient: x.transient}}, nil
	case invalidValue:
		return Wire{}, x.err
	default:
		return Wire{}, fmt.Errorf("variables: unsupported typed value %T", tv)
	}
}
