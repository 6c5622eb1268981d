// Package codec implements the little-endian binary encoding of contract
// parameters and return values, and the permit message hash. The byte layout
// is fixed by the wallets that build and sign these values, so every encoder
// here has a strict decoder counterpart: trailing bytes, out-of-range bools
// and unsorted map keys are all parse errors.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrParse is wrapped by every decoding failure.
var ErrParse = errors.New("parse error")

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

// Encoder appends values to a byte buffer.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded data.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) U8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) U16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }

func (e *Encoder) U32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }

func (e *Encoder) U64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
		return
	}
	e.U8(0)
}

func (e *Encoder) Raw(b []byte) { e.buf = append(e.buf, b...) }

// Decoder reads values from a byte slice.
type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(b []byte) *Decoder { return &Decoder{data: b} }

// Remaining returns the unread bytes without consuming them.
func (d *Decoder) Remaining() []byte { return d.data[d.off:] }

// Finish fails if any input is left unread.
func (d *Decoder) Finish() error {
	if n := len(d.data) - d.off; n != 0 {
		return parseErr("%d trailing bytes", n)
	}
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.data)-d.off < n {
		return nil, parseErr("need %d bytes at offset %d, have %d", n, d.off, len(d.data)-d.off)
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) U8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) U16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) Bool() (bool, error) {
	v, err := d.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, parseErr("invalid bool byte %d", v)
}

// Raw copies the next n bytes into dst.
func (d *Decoder) Raw(dst []byte) error {
	b, err := d.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}
