package cdr

import (
	"encoding/binary"
	"math"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Encoder writes aligned primitives into a CDR payload.
type Encoder struct {
	payload *rawio.BytesWriter
	order   binary.ByteOrder
	header  [HeaderSize]byte
	scratch [8]byte
}

// NewEncoder returns an encoder producing the requested byte order. The
// encapsulation header is emitted by Bytes.
func NewEncoder(littleEndian bool) *Encoder {
	e := &Encoder{payload: rawio.NewBytesWriter()}
	if littleEndian {
		e.order = binary.LittleEndian
		e.header[1] = 0x01
	} else {
		e.order = binary.BigEndian
	}
	return e
}

// Order returns the byte order the encoder writes.
func (e *Encoder) Order() binary.ByteOrder { return e.order }

// Bytes returns the encapsulation header followed by the payload.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+e.payload.Len())
	out = append(out, e.header[:]...)
	return append(out, e.payload.Bytes()...)
}

// PayloadLen returns the number of payload bytes written so far.
func (e *Encoder) PayloadLen() int { return e.payload.Len() }

// Reset drops the payload, keeping the byte order, so the encoder can be
// reused for another message.
func (e *Encoder) Reset() { e.payload.Reset() }

// Align zero-pads the payload to the next multiple of n.
func (e *Encoder) Align(n int) { e.payload.Align(int64(n)) }

// PutBytes appends raw bytes without alignment.
func (e *Encoder) PutBytes(b []byte) {
	e.payload.Write(b)
}

// PutBool writes one byte, 1 for true.
func (e *Encoder) PutBool(v bool) {
	if v {
		e.scratch[0] = 1
	} else {
		e.scratch[0] = 0
	}
	e.payload.Write(e.scratch[:1])
}

// PutInt8 writes a signed byte.
func (e *Encoder) PutInt8(v int8) { e.PutUint8(uint8(v)) }

// PutUint8 writes an unsigned byte.
func (e *Encoder) PutUint8(v uint8) {
	e.scratch[0] = v
	e.payload.Write(e.scratch[:1])
}

// PutByte writes an opaque byte.
func (e *Encoder) PutByte(v uint8) { e.PutUint8(v) }

// PutChar writes a single-byte character.
func (e *Encoder) PutChar(v uint8) { e.PutUint8(v) }

// PutInt16 writes an aligned 16-bit signed integer.
func (e *Encoder) PutInt16(v int16) { e.PutUint16(uint16(v)) }

// PutUint16 writes an aligned 16-bit unsigned integer.
func (e *Encoder) PutUint16(v uint16) {
	e.payload.Align(2)
	e.order.PutUint16(e.scratch[:2], v)
	e.payload.Write(e.scratch[:2])
}

// PutInt32 writes an aligned 32-bit signed integer.
func (e *Encoder) PutInt32(v int32) { e.PutUint32(uint32(v)) }

// PutUint32 writes an aligned 32-bit unsigned integer.
func (e *Encoder) PutUint32(v uint32) {
	e.payload.Align(4)
	e.order.PutUint32(e.scratch[:4], v)
	e.payload.Write(e.scratch[:4])
}

// PutInt64 writes an aligned 64-bit signed integer.
func (e *Encoder) PutInt64(v int64) { e.PutUint64(uint64(v)) }

// PutUint64 writes an aligned 64-bit unsigned integer.
func (e *Encoder) PutUint64(v uint64) {
	e.payload.Align(8)
	e.order.PutUint64(e.scratch[:8], v)
	e.payload.Write(e.scratch[:8])
}

// PutFloat32 writes an aligned 32-bit float.
func (e *Encoder) PutFloat32(v float32) { e.PutUint32(math.Float32bits(v)) }

// PutFloat64 writes an aligned 64-bit float.
func (e *Encoder) PutFloat64(v float64) { e.PutUint64(math.Float64bits(v)) }

// PutString writes a u32 length counting the trailing NUL, the bytes, and
// the NUL.
func (e *Encoder) PutString(s string) {
	e.PutUint32(uint32(len(s) + 1))
	e.payload.Write([]byte(s))
	e.scratch[0] = 0
	e.payload.Write(e.scratch[:1])
}

// PutSequenceLen writes an aligned u32 element count.
func (e *Encoder) PutSequenceLen(n int) {
	e.PutUint32(uint32(n))
}
