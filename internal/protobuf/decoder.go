package protobuf

import (
	"fmt"
	"math"

	"github.com/jeffutter/kafka-postgres-transform/internal/dynval"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Decoder decodes payload bytes for one fixed message type into a
// dynval.Value. It holds no mutable state and may be called concurrently
// from any number of goroutines.
type Decoder struct {
	msgType protoreflect.MessageType
}

// Decode renders payload as the message type this Decoder was built for.
// Per spec.md §4.2, a broker payload may carry an optional 5-byte
// Confluent-style magic-plus-schema-id prefix (byte 0 == 0x00); it is
// stripped before decoding if present. Fails with ErrDecodeFailed wrapping
// the underlying protobuf error.
func (d *Decoder) Decode(payload []byte) (dynval.Value, error) {
	body := stripConfluentPrefix(payload)

	msg := dynamicpb.NewMessage(d.msgType.Descriptor())
	if err := proto.Unmarshal(body, msg); err != nil {
		return dynval.Value{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	return renderMessage(msg), nil
}

// stripConfluentPrefix removes the 5-byte [0x00, schemaID(4)] Confluent
// wire-format prefix when present. A payload shorter than 5 bytes, or one
// whose first byte is non-zero, is returned unchanged — it is presumed to
// be a bare protobuf message (as on the file source, spec.md §4.1/§6).
func stripConfluentPrefix(payload []byte) []byte {
	if len(payload) >= 5 && payload[0] == 0 {
		return payload[5:]
	}
	return payload
}

// renderMessage applies the rendering rules of spec.md §4.2: fields unset
// on the message are omitted from the object; set fields render in field
// declaration order.
func renderMessage(msg protoreflect.Message) dynval.Value {
	fields := msg.Descriptor().Fields()
	out := make([]dynval.Field, 0, fields.Len())

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !msg.Has(fd) {
			continue
		}
		out = append(out, dynval.Field{
			Name:  fd.JSONName(),
			Value: renderValue(fd, msg.Get(fd)),
		})
	}

	return dynval.Object(out)
}

func renderValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) dynval.Value {
	switch {
	case fd.IsMap():
		return renderMap(fd, v.Map())
	case fd.IsList():
		return renderList(fd, v.List())
	default:
		return renderScalar(fd, v)
	}
}

func renderList(fd protoreflect.FieldDescriptor, l protoreflect.List) dynval.Value {
	items := make([]dynval.Value, l.Len())
	for i := 0; i < l.Len(); i++ {
		items[i] = renderScalar(fd, l.Get(i))
	}
	return dynval.List(items)
}

func renderMap(fd protoreflect.FieldDescriptor, m protoreflect.Map) dynval.Value {
	valueFd := fd.MapValue()
	fields := make([]dynval.Field, 0, m.Len())
	m.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		fields = append(fields, dynval.Field{
			Name:  mapKeyToString(k),
			Value: renderScalar(valueFd, v),
		})
		return true
	})
	return dynval.Object(fields)
}

func mapKeyToString(k protoreflect.MapKey) string {
	// MapKey.String() already renders bools/ints/strings in the form Go's
	// fmt would; protoreflect guarantees map keys are one of those kinds.
	return k.String()
}

func renderScalar(fd protoreflect.FieldDescriptor, v protoreflect.Value) dynval.Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return dynval.Bool(v.Bool())
	case protoreflect.EnumKind:
		return dynval.Int64(int64(v.Enum()))
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return dynval.Int64(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return dynval.Uint64(v.Uint())
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return dynval.Null()
		}
		return dynval.Float64(f)
	case protoreflect.StringKind:
		return dynval.String(v.String())
	case protoreflect.BytesKind:
		return dynval.Bytes(v.Bytes())
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return renderMessage(v.Message())
	default:
		// Unreachable for valid proto3 descriptors; render as null rather
		// than panic so a malformed field doesn't crash the whole batch.
		return dynval.Null()
	}
}
