package frame

import "errors"

// Fatal frame-layer errors from spec.md §4.1. Any of these terminates the
// pipeline (spec.md §7) — a corrupt header, descriptor set, or truncated
// record leaves no safe way to keep reading the stream.
var (
	ErrMalformedFrame   = errors.New("frame: malformed frame")
	ErrBadUTF8Key       = errors.New("frame: key is not valid UTF-8")
	ErrBadDescriptorSet = errors.New("frame: descriptor set failed to parse")
)
