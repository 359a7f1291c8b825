package cdr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Decoder reads aligned primitives from a CDR payload.
type Decoder struct {
	r     *rawio.BytesReader
	order binary.ByteOrder
	le    bool
}

// NewDecoder parses the encapsulation header of data and positions a cursor
// at the payload origin.
func NewDecoder(data []byte) (*Decoder, error) {
	if len(data) < HeaderSize {
		return nil, ErrBadEncapsulation
	}
	if data[0] != 0x00 {
		return nil, fmt.Errorf("%w: representation byte %#02x", ErrBadEncapsulation, data[0])
	}
	d := &Decoder{
		r:  rawio.NewBytesReader(data[HeaderSize:]),
		le: data[1]&0x01 == 0x01,
	}
	if d.le {
		d.order = binary.LittleEndian
	} else {
		d.order = binary.BigEndian
	}
	return d, nil
}

// LittleEndian reports whether the payload is little-endian.
func (d *Decoder) LittleEndian() bool { return d.le }

// Order returns the byte order the encapsulation header selected.
func (d *Decoder) Order() binary.ByteOrder { return d.order }

// Remaining returns the number of unread payload bytes.
func (d *Decoder) Remaining() int { return int(d.r.Size() - d.r.Tell()) }

// Align advances the cursor to the next multiple of n bytes from the
// payload origin.
func (d *Decoder) Align(n int) { d.r.Align(int64(n)) }

// Bytes returns the next n raw bytes without alignment.
func (d *Decoder) Bytes(n int) ([]byte, error) { return d.r.Read(n) }

// AlignedBytes aligns to width and returns width*count raw bytes. It is the
// bulk path for fixed arrays and sequences of fixed-width primitives.
func (d *Decoder) AlignedBytes(width, count int) ([]byte, error) {
	d.r.Align(int64(width))
	return d.r.Read(width * count)
}

// Bool reads one byte; any non-zero value is true.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.r.Read(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// Int8 reads a signed byte.
func (d *Decoder) Int8() (int8, error) {
	b, err := d.r.Read(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// Uint8 reads an unsigned byte.
func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.r.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Byte reads an opaque byte.
func (d *Decoder) Byte() (uint8, error) { return d.Uint8() }

// Char reads a single-byte character.
func (d *Decoder) Char() (uint8, error) { return d.Uint8() }

// Int16 reads an aligned 16-bit signed integer.
func (d *Decoder) Int16() (int16, error) {
	v, err := d.u(2)
	return int16(v), err
}

// Uint16 reads an aligned 16-bit unsigned integer.
func (d *Decoder) Uint16() (uint16, error) {
	v, err := d.u(2)
	return uint16(v), err
}

// Int32 reads an aligned 32-bit signed integer.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.u(4)
	return int32(v), err
}

// Uint32 reads an aligned 32-bit unsigned integer.
func (d *Decoder) Uint32() (uint32, error) {
	v, err := d.u(4)
	return uint32(v), err
}

// Int64 reads an aligned 64-bit signed integer.
func (d *Decoder) Int64() (int64, error) {
	v, err := d.u(8)
	return int64(v), err
}

// Uint64 reads an aligned 64-bit unsigned integer.
func (d *Decoder) Uint64() (uint64, error) {
	return d.u(8)
}

// Float32 reads an aligned 32-bit float.
func (d *Decoder) Float32() (float32, error) {
	v, err := d.u(4)
	return math.Float32frombits(uint32(v)), err
}

// Float64 reads an aligned 64-bit float.
func (d *Decoder) Float64() (float64, error) {
	v, err := d.u(8)
	return math.Float64frombits(v), err
}

func (d *Decoder) u(width int) (uint64, error) {
	d.r.Align(int64(width))
	b, err := d.r.Read(width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 2:
		return uint64(d.order.Uint16(b)), nil
	case 4:
		return uint64(d.order.Uint32(b)), nil
	default:
		return d.order.Uint64(b), nil
	}
}

// String reads a u32 length (counting the trailing NUL) followed by the
// bytes. Lengths of 0 and 1 both decode to the empty string.
func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n <= 1 {
		if _, err := d.r.Read(int(n)); err != nil {
			return "", err
		}
		return "", nil
	}
	b, err := d.r.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(b[:n-1]), nil
}

// SequenceLen reads an aligned u32 element count. The count is checked
// against the remaining payload so corrupt lengths fail before any
// allocation sized by them.
func (d *Decoder) SequenceLen() (int, error) {
	n, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(d.Remaining()) {
		return 0, rawio.ErrOutOfBounds
	}
	return int(n), nil
}
