package cdr

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bagworks/gobag/pkg/rawio"
)

func TestNewDecoderRejectsShortData(t *testing.T) {
	_, err := NewDecoder([]byte{0x00, 0x01, 0x00})
	if !errors.Is(err, ErrBadEncapsulation) {
		t.Errorf("NewDecoder(short) = %v, want ErrBadEncapsulation", err)
	}
}

func TestNewDecoderRejectsBadRepresentation(t *testing.T) {
	_, err := NewDecoder([]byte{0x07, 0x01, 0x00, 0x00, 0x00})
	if !errors.Is(err, ErrBadEncapsulation) {
		t.Errorf("NewDecoder(bad rep) = %v, want ErrBadEncapsulation", err)
	}
}

// Payload captured from a live recording of a geometry point message:
// three little-endian float64 values 1.0, 2.0, 3.0.
func TestDecodePointPayload(t *testing.T) {
	data := []byte(
		"\x00\x01\x00\x00" +
			"\x00\x00\x00\x00\x00\x00\xf0\x3f" +
			"\x00\x00\x00\x00\x00\x00\x00\x40" +
			"\x00\x00\x00\x00\x00\x00\x08\x40")

	d, err := NewDecoder(data)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if !d.LittleEndian() {
		t.Fatal("LittleEndian = false, want true")
	}

	for i, want := range []float64{1.0, 2.0, 3.0} {
		got, err := d.Float64()
		if err != nil {
			t.Fatalf("Float64 #%d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("Float64 #%d = %v, want %v", i, got, want)
		}
	}
	if d.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining())
	}
}

// Payload captured from a live recording of a std header message:
// int32 sec=10, uint32 nanosec=1000, string "frame_id".
func TestDecodeHeaderPayload(t *testing.T) {
	data := []byte("\x00\x01\x00\x00\x0a\x00\x00\x00\xe8\x03\x00\x00\x09\x00\x00\x00frame_id\x00")

	d, err := NewDecoder(data)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}

	sec, err := d.Int32()
	if err != nil || sec != 10 {
		t.Errorf("Int32 = %d, %v, want 10", sec, err)
	}
	nanosec, err := d.Uint32()
	if err != nil || nanosec != 1000 {
		t.Errorf("Uint32 = %d, %v, want 1000", nanosec, err)
	}
	frameID, err := d.String()
	if err != nil || frameID != "frame_id" {
		t.Errorf("String = %q, %v, want %q", frameID, err, "frame_id")
	}
}

// Two float64 values, a bool, and a uint32 occupy exactly 24 payload bytes:
// the bool at offset 16 forces three bytes of padding before the uint32 at
// offset 20.
func TestAlignmentLayout(t *testing.T) {
	e := NewEncoder(true)
	e.PutFloat64(1.5)
	e.PutFloat64(-2.5)
	e.PutBool(true)
	e.PutUint32(42)

	if e.PayloadLen() != 24 {
		t.Fatalf("PayloadLen = %d, want 24", e.PayloadLen())
	}
	out := e.Bytes()
	if len(out) != 28 {
		t.Fatalf("len(Bytes) = %d, want 28", len(out))
	}
	if !bytes.Equal(out[:4], []byte{0x00, 0x01, 0x00, 0x00}) {
		t.Errorf("header = %v, want [0 1 0 0]", out[:4])
	}
	if !bytes.Equal(out[21:24], []byte{0, 0, 0}) {
		t.Errorf("padding = %v, want zeros", out[21:24])
	}

	d, err := NewDecoder(out)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if v, _ := d.Float64(); v != 1.5 {
		t.Errorf("Float64 = %v, want 1.5", v)
	}
	if v, _ := d.Float64(); v != -2.5 {
		t.Errorf("Float64 = %v, want -2.5", v)
	}
	if v, _ := d.Bool(); !v {
		t.Error("Bool = false, want true")
	}
	if v, _ := d.Uint32(); v != 42 {
		t.Errorf("Uint32 = %v, want 42", v)
	}
}

func TestUint8ThenUint64Padding(t *testing.T) {
	e := NewEncoder(true)
	e.PutUint8(7)
	e.PutUint64(9)
	if e.PayloadLen() != 16 {
		t.Fatalf("PayloadLen = %d, want 16", e.PayloadLen())
	}

	d, err := NewDecoder(e.Bytes())
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if v, _ := d.Uint8(); v != 7 {
		t.Errorf("Uint8 = %d, want 7", v)
	}
	if v, _ := d.Uint64(); v != 9 {
		t.Errorf("Uint64 = %d, want 9", v)
	}
}

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain", "hello"},
		{"empty", ""},
		{"utf8", "héllo wörld"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder(true)
			e.PutString(tt.in)
			d, err := NewDecoder(e.Bytes())
			if err != nil {
				t.Fatalf("NewDecoder failed: %v", err)
			}
			got, err := d.String()
			if err != nil {
				t.Fatalf("String failed: %v", err)
			}
			if got != tt.in {
				t.Errorf("String = %q, want %q", got, tt.in)
			}
		})
	}
}

func TestStringZeroLength(t *testing.T) {
	// A zero u32 length with no trailing NUL also decodes to "".
	d, err := NewDecoder([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	got, err := d.String()
	if err != nil || got != "" {
		t.Errorf("String = %q, %v, want empty", got, err)
	}
}

func TestBigEndianRoundTrip(t *testing.T) {
	e := NewEncoder(false)
	e.PutUint16(0x1234)
	e.PutFloat32(1.25)
	e.PutString("be")

	out := e.Bytes()
	if out[1] != 0x00 {
		t.Fatalf("endian flag = %#x, want 0x00", out[1])
	}

	d, err := NewDecoder(out)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if d.LittleEndian() {
		t.Fatal("LittleEndian = true, want false")
	}
	if v, _ := d.Uint16(); v != 0x1234 {
		t.Errorf("Uint16 = %#x, want 0x1234", v)
	}
	if v, _ := d.Float32(); v != 1.25 {
		t.Errorf("Float32 = %v, want 1.25", v)
	}
	if v, _ := d.String(); v != "be" {
		t.Errorf("String = %q, want %q", v, "be")
	}
}

func TestSequenceLenRejectsOverlongCount(t *testing.T) {
	// Declared count of 0xFFFFFFFF with a 4-byte payload remainder.
	d, err := NewDecoder([]byte{0x00, 0x01, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if _, err := d.SequenceLen(); !errors.Is(err, rawio.ErrOutOfBounds) {
		t.Errorf("SequenceLen = %v, want ErrOutOfBounds", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	d, err := NewDecoder([]byte{0x00, 0x01, 0x00, 0x00, 0x01, 0x02})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if _, err := d.Uint64(); !errors.Is(err, rawio.ErrOutOfBounds) {
		t.Errorf("Uint64 on short payload = %v, want ErrOutOfBounds", err)
	}
}
