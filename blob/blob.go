// Package blob provides the little-endian byte stream used by every
// snapshot participant. Writers append; readers consume sequentially and
// remember the first failure so callers can check once at the end.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortRead is reported when a Reader runs out of data.
var ErrShortRead = errors.New("blob: unexpected end of data")

// Writer is an append-only output stream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the written data. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards all written data, keeping the allocation.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

func (w *Writer) WriteUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) WriteInt32(v int32)   { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) WriteInt64(v int64)   { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteRaw appends p without a length prefix.
func (w *Writer) WriteRaw(p []byte) { w.buf = append(w.buf, p...) }

// WriteBlock appends p prefixed by its uint32 length.
func (w *Writer) WriteBlock(p []byte) {
	w.WriteUint32(uint32(len(p)))
	w.WriteRaw(p)
}

// WriteString appends s prefixed by its uint32 length.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes a byte slice written by Writer.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, r.Remaining())
		r.pos = len(r.data)
		return nil
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

func (r *Reader) ReadUint8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

func (r *Reader) ReadUint32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadUint64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }
func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.ReadUint64()) }

// ReadRaw returns the next n bytes. The slice aliases the reader's data.
func (r *Reader) ReadRaw(n int) []byte { return r.take(n) }

// ReadBlock reads a length-prefixed block written by WriteBlock.
func (r *Reader) ReadBlock() []byte {
	n := r.ReadUint32()
	if r.err != nil {
		return nil
	}
	return r.take(int(n))
}

// ReadString reads a length-prefixed string written by WriteString.
func (r *Reader) ReadString() string {
	return string(r.ReadBlock())
}
