// Package snapshot implements the versioned, registry-driven capture
// and restore of the store, allocator, and spatial model, plus two
// durable sinks for the serialized bytes: a rotating local file store
// and an optional Postgres-backed store.
package snapshot

import (
	"encoding/binary"
	"fmt"
)

// Writer builds a snapshot buffer field by field. All multi-byte
// writes are little-endian.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty codec writer.
func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 4096)} }

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

// WriteBytes writes a length-prefixed (u32) byte string.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString writes a length-prefixed (u32) UTF-8 string.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes a snapshot buffer field by field, mirroring Writer.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data for sequential field reads.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

func (r *Reader) need(n int) error {
	if r.off+n > len(r.data) {
		return fmt.Errorf("snapshot: truncated buffer: need %d bytes at offset %d, have %d", n, r.off, len(r.data))
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.data) - r.off }
