// Package variables implements the typed variable model of external tasks
// and the serialization engine behind object variables.
//
// A variable is either a primitive (String, Long, Date, ...) carried
// inline, or an object value: a serialized payload plus the name of its
// object type and of the serialization data format it is encoded in.
//
// # Data formats
//
// An Engine maps format names to DataFormat codecs. Formats are resolved
// by name when a value is decoded, never by inspecting the payload. The
// default engine knows XML, JSON, gob, CBOR and protobuf:
//
//	engine := variables.NewDefaultEngine()
//	_ = variables.RegisterType[Invoice](engine, "com.acme.Invoice")
//
// Object type names are bound to Go types through the engine's Types
// registry. Protobuf messages resolve through the global protobuf
// registry and need no explicit binding.
//
// # Lazy decoding
//
// Fetched object values are not decoded on delivery. The first call to
// ObjectValue.Value decodes the payload and caches the result; later
// calls return the same instance. ValueSerialized, ObjectTypeName and
// SerializationDataFormat never decode. A decode failure is returned to
// the caller as a *DeserializationError and leaves the serialized form
// untouched.
//
// A collection serialized as one object (for example a wrapper type
// holding a slice) decodes as a single unit.
package variables
