package variables

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Well-known serialization data format names.
const (
	FormatXML   = "application/xml"
	FormatJSON  = "application/json"
	FormatGob   = "application/x-gob"
	FormatCBOR  = "application/cbor"
	FormatProto = "application/x-protobuf"
)

// DataFormat is a named codec for object values. Unmarshal always
// receives a pointer to the target type.
type DataFormat interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, target any) error
}

// TypeResolver is implemented by formats that carry their own type
// catalogue (protobuf). The engine consults it when the type name is not
// bound in its Types registry.
type TypeResolver interface {
	NewTarget(typeName string) (any, bool)
	TypeNameOf(v any) (string, bool)
}

type xmlFormat struct{}

// XML returns the encoding/xml data format.
func XML() DataFormat { return xmlFormat{} }

// xmlListElement is the root element of slice-shaped XML payloads, which
// would otherwise have one root per item.
const xmlListElement = "list"

func (xmlFormat) Name() string { return FormatXML }

func (xmlFormat) Marshal(v any) ([]byte, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt != nil && rt.Kind() == reflect.Array {
		return nil, fmt.Errorf("xml: cannot marshal array %s, use a slice or a wrapper struct", rt)
	}
	if !isXMLList(rt) {
		return xml.Marshal(v)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start := xml.StartElement{Name: xml.Name{Local: xmlListElement}}
	if err := enc.EncodeToken(start); err != nil {
		return nil, err
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (xmlFormat) Unmarshal(data []byte, v any) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && isXMLList(rv.Type().Elem()) {
		if err := decodeXMLList(d, rv.Elem()); err != nil {
			return err
		}
	} else if err := d.Decode(v); err != nil {
		return err
	}
	return xmlTrailing(d)
}

// isXMLList reports whether t is a slice other than []byte.
func isXMLList(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
}

func decodeXMLList(d *xml.Decoder, slice reflect.Value) error {
	var root xml.StartElement
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se
			break
		}
	}
	if root.Name.Local != xmlListElement {
		return fmt.Errorf("xml: expected <%s> root, found <%s>", xmlListElement, root.Name.Local)
	}

	out := reflect.MakeSlice(slice.Type(), 0, 0)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			item := reflect.New(slice.Type().Elem())
			if err := d.DecodeElement(item.Interface(), &t); err != nil {
				return err
			}
			out = reflect.Append(out, item.Elem())
		case xml.EndElement:
			slice.Set(out)
			return nil
		}
	}
}

// xmlTrailing fails when anything but whitespace, comments or processing
// instructions follows the document root.
func xmlTrailing(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("xml: unexpected element <%s> after document root", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return errors.New("xml: unexpected text after document root")
			}
		}
	}
}

type jsonFormat struct{}

// JSON returns the encoding/json data format.
func JSON() DataFormat { return jsonFormat{} }

func (jsonFormat) Name() string                       { return FormatJSON }
func (jsonFormat) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonFormat) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type gobFormat struct{}

// Gob returns the encoding/gob data format. Gob payloads are binary; on
// the wire they travel base64 encoded inside the value string.
func Gob() DataFormat { return gobFormat{} }

func (gobFormat) Name() string { return FormatGob }

func (gobFormat) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobFormat) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobFormat) binary() {}

type cborFormat struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR data format (core deterministic
// encoding), so re-encoding a decoded value reproduces the same bytes.
func CBOR() (DataFormat, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborFormat{enc: em, dec: dm}, nil
}

func (c cborFormat) Name() string                       { return FormatCBOR }
func (c cborFormat) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborFormat) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
func (c cborFormat) binary()                            {}

type protoFormat struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers data format. Object type names are
// full message names ("google.protobuf.StringValue"); messages linked
// into the binary resolve without explicit registration.
func Proto() DataFormat {
	return protoFormat{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoFormat) Name() string { return FormatProto }

func (p protoFormat) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v)
	}
	return p.mo.Marshal(msg)
}

func (p protoFormat) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v)
	}
	return p.uo.Unmarshal(data, msg)
}

func (p protoFormat) NewTarget(typeName string) (any, bool) {
	mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, false
	}
	return mt.New().Interface(), true
}

func (p protoFormat) TypeNameOf(v any) (string, bool) {
	msg, ok := v.(proto.Message)
	if !ok {
		return "", false
	}
	return string(msg.ProtoReflect().Descriptor().FullName()), true
}

func (p protoFormat) binary() {}

// binaryFormat marks formats whose payload is not valid text. Their
// serialized form is kept base64 encoded so it survives a JSON string.
type binaryFormat interface {
	binary()
}
