// Package bitstream encodes sync payloads in place. Producers size the
// payload first, allocate exactly that many bytes from the frame arena, then
// fill them with a Writer. All multi-byte values are little-endian.
package bitstream

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrOverflow  = errors.New("bitstream: write past end of buffer")
	ErrUnderflow = errors.New("bitstream: read past end of buffer")
)

// Fixed field sizes.
const (
	SizeU8  = 1
	SizeU16 = 2
	SizeU32 = 4
	SizeU64 = 8
	SizeF32 = 4
)

// SizeString is the encoded size of s (u16 length prefix + bytes).
func SizeString(s string) int { return SizeU16 + len(s) }

// Writer fills a caller-provided buffer. Writes past the end are dropped and
// latch ErrOverflow, so producers can check once at the end.
type Writer struct {
	buf []byte
	off int
	err error
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) reserve(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.off+n > len(w.buf) {
		w.err = ErrOverflow
		return nil
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *Writer) WriteU8(v uint8) {
	if b := w.reserve(SizeU8); b != nil {
		b[0] = v
	}
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU16(v uint16) {
	if b := w.reserve(SizeU16); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *Writer) WriteU32(v uint32) {
	if b := w.reserve(SizeU32); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *Writer) WriteU64(v uint64) {
	if b := w.reserve(SizeU64); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteString writes a u16 length prefix followed by the raw UTF-8 bytes.
// Strings longer than 65535 bytes latch ErrOverflow.
func (w *Writer) WriteString(s string) {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = ErrOverflow
		}
		return
	}
	w.WriteU16(uint16(len(s)))
	if b := w.reserve(len(s)); b != nil {
		copy(b, s)
	}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.off }

// Err reports the first overflow, if any.
func (w *Writer) Err() error { return w.err }

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Reader decodes a payload. Reads past the end return zero values and latch
// ErrUnderflow.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = ErrUnderflow
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadU8() uint8 {
	b := r.take(SizeU8)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool { return r.ReadU8() != 0 }

func (r *Reader) ReadU16() uint16 {
	b := r.take(SizeU16)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadU32() uint32 {
	b := r.take(SizeU32)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadU64() uint64 {
	b := r.take(SizeU64)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadF32() float32 {
	return math.Float32frombits(r.ReadU32())
}

// ReadString copies the string out, so the result outlives the frame arena.
func (r *Reader) ReadString() string {
	n := int(r.ReadU16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Err reports the first underflow, if any.
func (r *Reader) Err() error { return r.err }
