package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the data ends before a structure is complete.
	ErrTruncated = errors.New("classfile: unexpected end of data")
	// ErrBadMagic is returned when the data does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("classfile: invalid magic number")
	// ErrTrailingData is returned when bytes remain after the last structure.
	ErrTrailingData = errors.New("classfile: trailing data after structure")
)

// reader is a big-endian cursor over a byte slice. The first failure is
// sticky: every later read returns zero values and err stays set.
type reader struct {
	data []byte
	pos  int
	err  error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w (need %d bytes at offset %d, have %d)", ErrTruncated, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// bytes returns a copy so callers may keep the slice after the input is released.
func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

// finish reports the sticky error, or ErrTrailingData if input is left over.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("%w (%d bytes)", ErrTrailingData, len(r.data)-r.pos)
	}
	return nil
}

// writer accumulates big-endian output.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u2(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u4(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}
