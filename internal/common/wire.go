package common

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is the sticky error of a WireReader or WireWriter that ran off the end of its buffer
var ErrShortBuffer = errors.New("short buffer")

// WireWriter writes little endian fields into a fixed buffer. After the first overflow every further write is
// a no-op and Err returns ErrShortBuffer.
type WireWriter struct {
	buf []byte
	pos int
	err error
}

func NewWireWriter(buf []byte) *WireWriter { return &WireWriter{buf: buf} }

func (w *WireWriter) grab(n int) []byte {
	if w.err != nil {
		return nil
	}
	if n < 0 || len(w.buf)-w.pos < n {
		w.err = ErrShortBuffer
		return nil
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b
}

func (w *WireWriter) Uint8(v uint8) {
	if b := w.grab(1); b != nil {
		b[0] = v
	}
}

func (w *WireWriter) Uint16(v uint16) {
	if b := w.grab(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *WireWriter) Uint32(v uint32) {
	if b := w.grab(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *WireWriter) Uint64(v uint64) {
	if b := w.grab(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (w *WireWriter) Bytes(v []byte) {
	if b := w.grab(len(v)); b != nil {
		copy(b, v)
	}
}

// Pos is the number of bytes written so far
func (w *WireWriter) Pos() int   { return w.pos }
func (w *WireWriter) Err() error { return w.err }

// WireReader is the reading counterpart of WireWriter. Reads past the end return zero values and set Err.
type WireReader struct {
	buf []byte
	pos int
	err error
}

func NewWireReader(buf []byte) *WireReader { return &WireReader{buf: buf} }

func (r *WireReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.pos < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *WireReader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *WireReader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *WireReader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *WireReader) Uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Bytes copies the next len(dst) bytes into dst
func (r *WireReader) Bytes(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

// Next returns the next n bytes without copying
func (r *WireReader) Next(n int) []byte { return r.take(n) }

func (r *WireReader) Pos() int       { return r.pos }
func (r *WireReader) Remaining() int { return len(r.buf) - r.pos }
func (r *WireReader) Err() error     { return r.err }
