package frame

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Write serializes records in the §6 layout to w: header record count,
// then a zstd-compressed body holding the descriptor set and the
// length-prefixed records in order. It exists for tests (the frame
// round-trip property) and for operators producing file-source input
// from an external exporter; the pipeline itself only ever reads.
func Write(w io.Writer, descriptorSet []byte, records []Record) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(records)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	defer zw.Close()

	bw := bufio.NewWriter(zw)

	if err := writeLengthPrefixed(bw, descriptorSet); err != nil {
		return err
	}

	for _, rec := range records {
		if err := writeLengthPrefixed(bw, []byte(rec.Key)); err != nil {
			return err
		}
		if err := writeLengthPrefixed(bw, rec.Payload); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func writeLengthPrefixed(w *bufio.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
