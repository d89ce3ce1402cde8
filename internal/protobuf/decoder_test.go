package protobuf

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func protoString(s string) *string   { return &s }
func protoInt32(i int32) *int32      { return &i }

func customerDescriptorSet() []byte {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("customer.proto"),
		Package: protoString("example"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: protoString("Customer"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     protoString("id"),
						JsonName: protoString("id"),
						Number:   protoInt32(1),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					},
					{
						Name:     protoString("name"),
						JsonName: protoString("name"),
						Number:   protoInt32(2),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
		},
		Syntax: protoString("proto3"),
	}
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
	b, err := proto.Marshal(set)
	if err != nil {
		panic(err)
	}
	return b
}

func TestDecodeSingleRecord(t *testing.T) {
	pool, err := NewPool(customerDescriptorSet())
	require.NoError(t, err)

	dec, err := pool.Decoder("example.Customer")
	require.NoError(t, err)

	// Hand-encode a Customer{id: 42, name: "Test Customer"} payload using
	// the raw wire format: field 1 varint, field 2 length-delimited.
	payload := []byte{
		0x08, 42, // field 1 (varint) = 42
		0x12, 13, // field 2 (len-delimited), length 13
	}
	payload = append(payload, []byte("Test Customer")...)

	v, err := dec.Decode(payload)
	require.NoError(t, err)

	id, ok := v.Get("id")
	require.True(t, ok)
	require.Equal(t, int64(42), id.Int)

	name, ok := v.Get("name")
	require.True(t, ok)
	require.Equal(t, "Test Customer", name.Str)
}

func TestDecodeStripsConfluentPrefix(t *testing.T) {
	pool, err := NewPool(customerDescriptorSet())
	require.NoError(t, err)
	dec, err := pool.Decoder("example.Customer")
	require.NoError(t, err)

	body := []byte{0x08, 7}
	prefixed := append([]byte{0x00, 0, 0, 0, 1}, body...)

	v, err := dec.Decode(prefixed)
	require.NoError(t, err)
	id, ok := v.Get("id")
	require.True(t, ok)
	require.Equal(t, int64(7), id.Int)
}

func TestDecodeUnknownTypeFails(t *testing.T) {
	pool, err := NewPool(customerDescriptorSet())
	require.NoError(t, err)
	_, err = pool.Decoder("example.DoesNotExist")
	require.Error(t, err)
}

func TestDecodeMalformedPayload(t *testing.T) {
	pool, err := NewPool(customerDescriptorSet())
	require.NoError(t, err)
	dec, err := pool.Decoder("example.Customer")
	require.NoError(t, err)

	_, err = dec.Decode([]byte{0x08}) // truncated varint
	require.ErrorIs(t, err, ErrDecodeFailed)
}

func TestNewPoolBadDescriptorSet(t *testing.T) {
	_, err := NewPool([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrBadDescriptorSet)
}
