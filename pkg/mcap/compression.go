package mcap

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Identifiers of the built-in compression providers.
const (
	CompressionNone = ""
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Compression compresses and decompresses chunk records.
//
// Thread Safety: providers are shared process-wide through the registry and
// must be safe for concurrent use.
type Compression interface {
	// Name returns the identifier stored in chunk records.
	Name() string
	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)
	// Decompress expands src to exactly uncompressedSize bytes.
	Decompress(src []byte, uncompressedSize uint64) ([]byte, error)
}

var (
	compressionMu sync.RWMutex
	compressions  = map[string]Compression{}
)

func init() {
	RegisterCompression(noneCompression{})
	RegisterCompression(newZstdCompression())
	RegisterCompression(lz4Compression{})
}

// RegisterCompression makes a provider available to every session in the
// process. Registering a name again replaces the earlier provider.
func RegisterCompression(c Compression) {
	compressionMu.Lock()
	defer compressionMu.Unlock()
	compressions[c.Name()] = c
}

// LookupCompression returns the provider registered under name.
func LookupCompression(name string) (Compression, error) {
	compressionMu.RLock()
	defer compressionMu.RUnlock()
	c, ok := compressions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
	return c, nil
}

// DecompressChunk expands a chunk's records and optionally validates the
// stored uncompressed CRC. A zero CRC means not available and passes.
func DecompressChunk(c *Chunk, checkCRC bool) ([]byte, error) {
	comp, err := LookupCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	records, err := comp.Decompress(c.Records, c.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("chunk records: %w", err)
	}
	if checkCRC && c.UncompressedCRC != 0 {
		if got := crc32.ChecksumIEEE(records); got != c.UncompressedCRC {
			return nil, fmt.Errorf("%w: chunk crc %08x, stored %08x", ErrChecksumMismatch, got, c.UncompressedCRC)
		}
	}
	return records, nil
}

// noneCompression stores chunk records verbatim.
type noneCompression struct{}

func (noneCompression) Name() string { return CompressionNone }

func (noneCompression) Compress(src []byte) ([]byte, error) { return src, nil }

func (noneCompression) Decompress(src []byte, uncompressedSize uint64) ([]byte, error) {
	if uint64(len(src)) != uncompressedSize {
		return nil, fmt.Errorf("%w: stored %d bytes, declared %d", ErrLengthMismatch, len(src), uncompressedSize)
	}
	return src, nil
}

// zstdCompression shares one encoder/decoder pair; EncodeAll and DecodeAll
// are safe for concurrent use.
type zstdCompression struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompression() *zstdCompression {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil)
	return &zstdCompression{enc: enc, dec: dec}
}

func (z *zstdCompression) Name() string { return CompressionZstd }

func (z *zstdCompression) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (z *zstdCompression) Decompress(src []byte, uncompressedSize uint64) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if uint64(len(out)) != uncompressedSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, declared %d", ErrLengthMismatch, len(out), uncompressedSize)
	}
	return out, nil
}

// lz4Compression uses the LZ4 frame format.
type lz4Compression struct{}

func (lz4Compression) Name() string { return CompressionLZ4 }

func (lz4Compression) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compression) Decompress(src []byte, uncompressedSize uint64) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream shorter than declared %d", ErrLengthMismatch, uncompressedSize)
		}
		return nil, fmt.Errorf("lz4: %w", err)
	}
	var extra [1]byte
	if n, _ := zr.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: stream longer than declared %d", ErrLengthMismatch, uncompressedSize)
	}
	return out, nil
}
