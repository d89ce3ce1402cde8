// Package frame reads the on-disk container format of spec.md §6: a
// little-endian u32 record count, followed by a zstd-compressed payload
// holding a serialized descriptor set and then a sequence of
// length-prefixed (key, payload) records.
package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Record is one (key, payload) pair read from the file, prior to protobuf
// decoding.
type Record struct {
	Key     string
	Payload []byte
}

// Reader produces a finite, non-restartable sequence of Records. It is
// not safe for concurrent use — the pipeline reads one Reader from a
// single goroutine and fans out downstream.
type Reader struct {
	zr            *zstd.Decoder
	br            *bufio.Reader
	numMessages   uint32
	descriptorSet []byte
	closed        bool
}

// Open reads the header and descriptor set eagerly, leaving the reader
// positioned at the first record. The underlying source must not be read
// from elsewhere concurrently.
func Open(r io.Reader) (*Reader, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading message count: %w", ErrMalformedFrame, err)
	}
	numMessages := binary.LittleEndian.Uint32(lenBuf[:])

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: opening zstd stream: %w", ErrMalformedFrame, err)
	}

	br := bufio.NewReader(zr)

	descriptorSet, err := readLengthPrefixed(br)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: reading descriptor set: %w", ErrMalformedFrame, err)
	}

	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(descriptorSet, &fds); err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadDescriptorSet, err)
	}

	return &Reader{
		zr:            zr,
		br:            br,
		numMessages:   numMessages,
		descriptorSet: descriptorSet,
	}, nil
}

// NumMessages returns the record count declared in the file header. It is
// informational only; Next is authoritative about how many records
// actually follow.
func (r *Reader) NumMessages() uint32 { return r.numMessages }

// DescriptorSet returns the raw serialized FileDescriptorSet bytes, ready
// to be handed to protobuf.NewPool.
func (r *Reader) DescriptorSet() []byte { return r.descriptorSet }

// Next reads the next (key, payload) record. It returns io.EOF once the
// stream ends cleanly at a record boundary. A truncated record (EOF
// mid-read) is reported as ErrMalformedFrame, not io.EOF, since it is not
// a clean termination.
func (r *Reader) Next() (Record, error) {
	keyBytes, err := readLengthPrefixed(r.br)
	if err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: reading record key: %w", ErrMalformedFrame, err)
	}

	if !utf8.Valid(keyBytes) {
		return Record{}, ErrBadUTF8Key
	}

	payload, err := readLengthPrefixed(r.br)
	if err != nil {
		return Record{}, fmt.Errorf("%w: reading record payload: %w", ErrMalformedFrame, err)
	}

	return Record{Key: string(keyBytes), Payload: payload}, nil
}

// Close releases the zstd decoder. It does not close the underlying
// source.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.zr.Close()
	return nil
}

// readLengthPrefixed reads a u32 little-endian length followed by that
// many bytes. A length read that hits EOF exactly at the start of the
// call is surfaced as io.EOF (a clean record boundary); anything else
// (including EOF partway through the length or body) is an error for the
// caller to wrap as malformed.
func readLengthPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
