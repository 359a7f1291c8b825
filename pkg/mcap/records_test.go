package mcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"reflect"
	"testing"

	"github.com/bagworks/gobag/pkg/rawio"
)

func TestMagic(t *testing.T) {
	buf := rawio.NewBytesWriter()
	if err := NewEncoder(buf).WriteMagic(); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), Magic) {
		t.Fatalf("magic = % x, want % x", buf.Bytes(), Magic)
	}
	if err := NewParser(rawio.NewBytesReader(buf.Bytes())).Magic(); err != nil {
		t.Fatalf("parse magic: %v", err)
	}

	bad := append([]byte(nil), Magic...)
	bad[0] ^= 0xFF
	if err := NewParser(rawio.NewBytesReader(bad)).Magic(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
	if err := NewParser(rawio.NewBytesReader(Magic[:4])).Magic(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("short magic err = %v, want ErrBadMagic", err)
	}
}

func TestRecordWalk(t *testing.T) {
	buf := rawio.NewBytesWriter()
	enc := NewEncoder(buf)

	wantSchema := &Schema{ID: 3, Name: "nav/Fix", Encoding: "ros2msg", Data: []byte("float64 lat\nfloat64 lon\n")}
	wantChannel := &Channel{ID: 5, SchemaID: 3, Topic: "/gps", MessageEncoding: "cdr", Metadata: map[string]string{"frame": "map", "origin": "bag"}}
	wantMessage := &Message{ChannelID: 5, Sequence: 42, LogTime: 900, PublishTime: 890, Data: []byte{1, 2, 3, 4}}

	if err := enc.WriteSchema(wantSchema); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := enc.WriteChannel(wantChannel); err != nil {
		t.Fatalf("write channel: %v", err)
	}
	if err := enc.WriteMessage(wantMessage); err != nil {
		t.Fatalf("write message: %v", err)
	}

	p := NewParser(rawio.NewBytesReader(buf.Bytes()))
	if op := p.PeekOp(); op != OpSchema {
		t.Fatalf("peek = %s, want schema", op)
	}
	op, payload, err := p.Next()
	if err != nil || op != OpSchema {
		t.Fatalf("next = %s, %v", op, err)
	}
	s, err := ParseSchema(payload)
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	if !reflect.DeepEqual(s, wantSchema) {
		t.Fatalf("schema = %+v, want %+v", s, wantSchema)
	}

	op, payload, err = p.Next()
	if err != nil || op != OpChannel {
		t.Fatalf("next = %s, %v", op, err)
	}
	c, err := ParseChannel(payload)
	if err != nil {
		t.Fatalf("parse channel: %v", err)
	}
	if !reflect.DeepEqual(c, wantChannel) {
		t.Fatalf("channel = %+v, want %+v", c, wantChannel)
	}

	op, payload, err = p.Next()
	if err != nil || op != OpMessage {
		t.Fatalf("next = %s, %v", op, err)
	}
	m, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if !reflect.DeepEqual(m, wantMessage) {
		t.Fatalf("message = %+v, want %+v", m, wantMessage)
	}
	if op := p.PeekOp(); op != OpInvalid {
		t.Fatalf("peek past end = %s, want invalid", op)
	}

	// Skip lands on record boundaries without touching payloads.
	p = NewParser(rawio.NewBytesReader(buf.Bytes()))
	for _, want := range []OpCode{OpSchema, OpChannel} {
		op, err := p.Skip()
		if err != nil || op != want {
			t.Fatalf("skip = %s, %v, want %s", op, err, want)
		}
	}
	if op := p.PeekOp(); op != OpMessage {
		t.Fatalf("peek after skips = %s, want message", op)
	}
}

func TestParserTruncation(t *testing.T) {
	// A record header declaring more payload than the stream holds.
	record := make([]byte, RecordHeaderSize+4)
	record[0] = byte(OpMessage)
	binary.LittleEndian.PutUint64(record[1:], 100)

	if _, _, err := NewParser(rawio.NewBytesReader(record)).Next(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("next err = %v, want ErrTruncated", err)
	}
	if _, err := NewParser(rawio.NewBytesReader(record)).Skip(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("skip err = %v, want ErrTruncated", err)
	}
	if _, _, err := NewParser(rawio.NewBytesReader(record[:5])).Next(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short header err = %v, want ErrTruncated", err)
	}
}

func TestParseSchemaZeroID(t *testing.T) {
	buf := rawio.NewBytesWriter()
	p := &payloadWriter{w: buf}
	p.u16(0)
	p.str("ignored/Type")
	p.str("ros2msg")
	p.bytes32(nil)

	s, err := ParseSchema(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != nil {
		t.Fatalf("schema = %+v, want nil", s)
	}
}

func TestParseMalformedPayloads(t *testing.T) {
	t.Run("string overruns payload", func(t *testing.T) {
		buf := rawio.NewBytesWriter()
		p := &payloadWriter{w: buf}
		p.u16(1)
		p.u16(0)
		p.u32(1000) // topic length reaching past the payload
		if _, err := ParseChannel(buf.Bytes()); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("err = %v, want ErrMalformedRecord", err)
		}
	})

	t.Run("misaligned count map", func(t *testing.T) {
		buf := rawio.NewBytesWriter()
		p := &payloadWriter{w: buf}
		p.u64(0)
		p.u64(0)
		p.u64(0)
		p.u64(0)
		p.u32(7) // not a multiple of the 10-byte entry size
		buf.Write(make([]byte, 7))
		p.u64(0)
		p.str("")
		p.u64(0)
		p.u64(0)
		if _, err := ParseChunkIndex(buf.Bytes()); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("err = %v, want ErrMalformedRecord", err)
		}
	})

	t.Run("footer too short", func(t *testing.T) {
		if _, err := ParseFooter(make([]byte, 10)); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("err = %v, want ErrMalformedRecord", err)
		}
	})
}

func TestCompressionRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("sensor frame 0123456789 "), 64)
	for _, name := range []string{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run("compression "+name, func(t *testing.T) {
			comp, err := LookupCompression(name)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			compressed, err := comp.Compress(src)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			out, err := comp.Decompress(compressed, uint64(len(src)))
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, src) {
				t.Fatal("round trip altered the bytes")
			}
		})
	}

	if _, err := LookupCompression("snappy"); !errors.Is(err, ErrUnknownCompression) {
		t.Fatalf("err = %v, want ErrUnknownCompression", err)
	}
}

func TestDecompressChunk(t *testing.T) {
	src := bytes.Repeat([]byte("odometry "), 32)
	zstdComp, err := LookupCompression(CompressionZstd)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	compressed, err := zstdComp.Compress(src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	t.Run("valid crc", func(t *testing.T) {
		c := &Chunk{
			UncompressedSize: uint64(len(src)),
			UncompressedCRC:  crc32.ChecksumIEEE(src),
			Compression:      CompressionZstd,
			Records:          compressed,
		}
		out, err := DecompressChunk(c, true)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if !bytes.Equal(out, src) {
			t.Fatal("records differ")
		}
	})

	t.Run("crc mismatch", func(t *testing.T) {
		c := &Chunk{
			UncompressedSize: uint64(len(src)),
			UncompressedCRC:  crc32.ChecksumIEEE(src) + 1,
			Compression:      CompressionZstd,
			Records:          compressed,
		}
		if _, err := DecompressChunk(c, true); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("err = %v, want ErrChecksumMismatch", err)
		}
		// Unchecked reads ignore the stored value.
		if _, err := DecompressChunk(c, false); err != nil {
			t.Fatalf("unchecked decompress: %v", err)
		}
	})

	t.Run("zero crc passes", func(t *testing.T) {
		c := &Chunk{
			UncompressedSize: uint64(len(src)),
			Compression:      CompressionZstd,
			Records:          compressed,
		}
		if _, err := DecompressChunk(c, true); err != nil {
			t.Fatalf("decompress: %v", err)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		c := &Chunk{
			UncompressedSize: uint64(len(src) - 1),
			Compression:      CompressionNone,
			Records:          src,
		}
		if _, err := DecompressChunk(c, false); !errors.Is(err, ErrLengthMismatch) {
			t.Fatalf("err = %v, want ErrLengthMismatch", err)
		}
	})

	t.Run("unknown compression", func(t *testing.T) {
		c := &Chunk{Compression: "snappy", Records: src}
		if _, err := DecompressChunk(c, false); !errors.Is(err, ErrUnknownCompression) {
			t.Fatalf("err = %v, want ErrUnknownCompression", err)
		}
	})
}

func TestAttachmentChecksum(t *testing.T) {
	buf := rawio.NewBytesWriter()
	// The stored CRC field is recomputed on write, whatever the caller set.
	err := NewEncoder(buf).WriteAttachment(&Attachment{
		LogTime:    7,
		CreateTime: 6,
		Name:       "calib",
		MediaType:  "application/octet-stream",
		Data:       []byte("intrinsics"),
		CRC:        0xDEADBEEF,
	})
	if err != nil {
		t.Fatalf("write attachment: %v", err)
	}

	op, payload, err := NewParser(rawio.NewBytesReader(buf.Bytes())).Next()
	if err != nil || op != OpAttachment {
		t.Fatalf("next = %s, %v", op, err)
	}
	a, err := ParseAttachment(payload)
	if err != nil {
		t.Fatalf("parse attachment: %v", err)
	}
	if a.CRC == 0 || a.CRC == 0xDEADBEEF {
		t.Fatalf("stored crc = %08x, want recomputed", a.CRC)
	}
	if err := VerifyAttachment(a); err != nil {
		t.Fatalf("verify: %v", err)
	}

	tampered := *a
	tampered.Data = []byte("intrinsicZ")
	if err := VerifyAttachment(&tampered); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}

	zeroed := *a
	zeroed.CRC = 0
	if err := VerifyAttachment(&zeroed); err != nil {
		t.Fatalf("zero crc should pass: %v", err)
	}
}

func TestEncoderDeterministicMaps(t *testing.T) {
	channel := func(meta map[string]string) []byte {
		buf := rawio.NewBytesWriter()
		err := NewEncoder(buf).WriteChannel(&Channel{ID: 1, Topic: "/t", MessageEncoding: "cdr", Metadata: meta})
		if err != nil {
			t.Fatalf("write channel: %v", err)
		}
		return append([]byte(nil), buf.Bytes()...)
	}
	a := channel(map[string]string{"b": "2", "a": "1", "c": "3"})
	b := channel(map[string]string{"c": "3", "a": "1", "b": "2"})
	if !bytes.Equal(a, b) {
		t.Fatal("equal metadata produced different bytes")
	}
}
