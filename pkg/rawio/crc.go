package rawio

import "hash/crc32"

// CRCWriter wraps a Writer and accumulates a CRC-32 (IEEE) over every byte
// written through it.
type CRCWriter struct {
	w   Writer
	crc uint32
}

// NewCRCWriter returns a CRC-accumulating wrapper around w.
func NewCRCWriter(w Writer) *CRCWriter {
	return &CRCWriter{w: w}
}

// Write forwards p to the underlying writer and folds the bytes actually
// written into the checksum.
func (c *CRCWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
	return n, err
}

// Sum32 returns the checksum accumulated since the last reset.
func (c *CRCWriter) Sum32() uint32 { return c.crc }

// ResetCRC clears the accumulator without disturbing the underlying writer.
func (c *CRCWriter) ResetCRC() { c.crc = 0 }

// SeedCRC folds bytes that were written elsewhere into the accumulator.
func (c *CRCWriter) SeedCRC(p []byte) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
}

// SetCRC replaces the accumulator with a checksum computed elsewhere.
func (c *CRCWriter) SetCRC(sum uint32) { c.crc = sum }

// Tell returns the underlying writer's position.
func (c *CRCWriter) Tell() int64 { return c.w.Tell() }

// Close closes the underlying writer.
func (c *CRCWriter) Close() error { return c.w.Close() }

// CRCReader wraps a Reader and accumulates a CRC-32 (IEEE) over every byte
// consumed through Read. Peek and seeks do not touch the accumulator; the
// caller decides when a seek invalidates the sum and resets it.
type CRCReader struct {
	r   Reader
	crc uint32
}

// NewCRCReader returns a CRC-accumulating wrapper around r.
func NewCRCReader(r Reader) *CRCReader {
	return &CRCReader{r: r}
}

// Read consumes n bytes and folds them into the checksum.
func (c *CRCReader) Read(n int) ([]byte, error) {
	b, err := c.r.Read(n)
	if err != nil {
		return nil, err
	}
	c.crc = crc32.Update(c.crc, crc32.IEEETable, b)
	return b, nil
}

// Peek returns upcoming bytes without advancing or checksumming.
func (c *CRCReader) Peek(n int) ([]byte, error) { return c.r.Peek(n) }

// Sum32 returns the checksum accumulated since the last reset.
func (c *CRCReader) Sum32() uint32 { return c.crc }

// ResetCRC clears the accumulator.
func (c *CRCReader) ResetCRC() { c.crc = 0 }

// SeekFromStart repositions the underlying reader.
func (c *CRCReader) SeekFromStart(off int64) (int64, error) {
	return c.r.SeekFromStart(off)
}

// SeekFromCurrent repositions the underlying reader.
func (c *CRCReader) SeekFromCurrent(off int64) (int64, error) {
	return c.r.SeekFromCurrent(off)
}

// SeekFromEnd repositions the underlying reader.
func (c *CRCReader) SeekFromEnd(off int64) (int64, error) {
	return c.r.SeekFromEnd(off)
}

// Tell returns the underlying reader's position.
func (c *CRCReader) Tell() int64 { return c.r.Tell() }

// Size returns the underlying reader's size.
func (c *CRCReader) Size() int64 { return c.r.Size() }

// Close closes the underlying reader.
func (c *CRCReader) Close() error { return c.r.Close() }
