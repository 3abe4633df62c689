package vm

import (
	"bytes"
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Binary encoding helpers
// ---------------------------------------------------------------------------

// WriteUint32 writes a uint32 in little-endian format.
func WriteUint32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

// ReadUint32 reads a uint32 in little-endian format.
func ReadUint32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// ---------------------------------------------------------------------------
// byteReader: bounds-checked cursor over an image or archive
// ---------------------------------------------------------------------------

// byteReader reads little-endian values from a byte slice. The first failed
// read latches err; later reads return zero values, so callers may read a
// whole record and check err once.
type byteReader struct {
	data   []byte
	offset int
	err    error
	eof    error // error reported on truncation
}

func newByteReader(data []byte, eof error) *byteReader {
	return &byteReader{data: data, eof: eof}
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.offset
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = r.eof
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *byteReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return ReadUint32(b)
}

func (r *byteReader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *byteReader) int32() int32 {
	return int32(r.uint32())
}

func (r *byteReader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) bool() bool {
	return r.uint8() != 0
}

// bytes reads a length-prefixed byte string. The result is a copy.
func (r *byteReader) bytes() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

func (r *byteReader) string() string {
	return string(r.bytes())
}

// count reads an element count and rejects counts that cannot possibly fit in
// the remaining input given a minimum element size.
func (r *byteReader) count(minSize int) int {
	n := r.uint32()
	if r.err != nil {
		return 0
	}
	if minSize > 0 && uint64(n)*uint64(minSize) > uint64(r.remaining()) {
		r.err = r.eof
		return 0
	}
	return int(n)
}

// ---------------------------------------------------------------------------
// byteWriter: little-endian output buffer
// ---------------------------------------------------------------------------

type byteWriter struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (w *byteWriter) uint32(v uint32) {
	WriteUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *byteWriter) uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:], v)
	w.buf.Write(w.scratch[:])
}

func (w *byteWriter) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *byteWriter) uint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *byteWriter) bool(v bool) {
	if v {
		w.uint8(1)
	} else {
		w.uint8(0)
	}
}

func (w *byteWriter) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *byteWriter) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *byteWriter) Bytes() []byte {
	return w.buf.Bytes()
}
