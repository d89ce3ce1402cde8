package protobuf

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Pool is a descriptor pool parsed from a serialized FileDescriptorSet. It
// is read-only after construction and safe for concurrent use by any
// number of Decoders — the pipeline shares one Pool for the life of a
// file or broker subscription.
type Pool struct {
	all protodescFiles
}

// protodescFiles is the subset of *protoregistry.Files we need; named so
// pool.go does not have to import protoregistry just for one field type.
type protodescFiles interface {
	FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error)
}

// NewPool parses a serialized protobuf FileDescriptorSet (as laid out in
// spec.md §6, the bytes following the u32 length prefix) into a Pool.
// Fails with ErrBadDescriptorSet-wrapped errors on malformed input.
func NewPool(descriptorSetBytes []byte) (*Pool, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(descriptorSetBytes, &fds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDescriptorSet, err)
	}

	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDescriptorSet, err)
	}

	return &Pool{all: files}, nil
}

// Decoder looks up a message type by its fully qualified name and returns
// a decode function for it. The returned Decoder is immutable and may be
// shared across goroutines.
func (p *Pool) Decoder(typeName string) (*Decoder, error) {
	desc, err := p.all.FindDescriptorByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, fmt.Errorf("protobuf: message type %q not found: %w", typeName, err)
	}

	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("protobuf: %q is not a message type", typeName)
	}

	return &Decoder{msgType: dynamicpb.NewMessageType(md)}, nil
}
