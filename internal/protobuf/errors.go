package protobuf

import "errors"

// ErrDecodeFailed wraps any error encountered while decoding a payload
// against a descriptor. Callers match it with errors.Is to apply the
// record-level "log and drop" policy from spec.md §7.
var ErrDecodeFailed = errors.New("protobuf: decode failed")

// ErrBadDescriptorSet is returned when a serialized FileDescriptorSet
// fails to parse (spec.md §4.1's BadDescriptorSet).
var ErrBadDescriptorSet = errors.New("protobuf: bad descriptor set")
