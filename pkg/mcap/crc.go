package mcap

import (
	"fmt"
	"hash/crc32"

	"github.com/bagworks/gobag/pkg/rawio"
)

// attachmentCRC covers the attachment payload from the log time field
// through the data bytes.
func attachmentCRC(head, data []byte) uint32 {
	crc := crc32.Update(0, crc32.IEEETable, head)
	return crc32.Update(crc, crc32.IEEETable, data)
}

// VerifyAttachment recomputes a parsed attachment's checksum against the
// stored one. A zero stored CRC means not available and passes.
func VerifyAttachment(a *Attachment) error {
	if a.CRC == 0 {
		return nil
	}
	p := &payloadWriter{w: rawio.NewBytesWriter()}
	p.u64(a.LogTime)
	p.u64(a.CreateTime)
	p.str(a.Name)
	p.str(a.MediaType)
	p.u64(uint64(len(a.Data)))
	if got := attachmentCRC(p.bytes(), a.Data); got != a.CRC {
		return fmt.Errorf("%w: attachment %q crc %08x, stored %08x", ErrChecksumMismatch, a.Name, got, a.CRC)
	}
	return nil
}

// ComputeRangeCRC checksums the file bytes [start, end) in bounded reads.
func ComputeRangeCRC(r rawio.Reader, start, end int64) (uint32, error) {
	if _, err := r.SeekFromStart(start); err != nil {
		return 0, fmt.Errorf("seek crc range: %w", err)
	}
	var crc uint32
	for off := start; off < end; {
		n := int64(64 << 10)
		if end-off < n {
			n = end - off
		}
		b, err := r.Read(int(n))
		if err != nil {
			return 0, fmt.Errorf("read crc range at offset %d: %w", off, err)
		}
		crc = crc32.Update(crc, crc32.IEEETable, b)
		off += n
	}
	return crc, nil
}

// ValidateCRC walks the data section once and checks every checksum it
// carries: attachment CRCs, chunk uncompressed CRCs, and finally the
// data-section CRC declared by DataEnd (zero means not available and
// passes). The walk stops at the first failure.
func ValidateCRC(r rawio.Reader) error {
	if _, err := r.SeekFromStart(0); err != nil {
		return fmt.Errorf("seek file start: %w", err)
	}
	cr := rawio.NewCRCReader(r)
	p := NewParser(cr)
	if err := p.Magic(); err != nil {
		return err
	}
	for {
		op := p.PeekOp()
		if op == OpInvalid {
			return fmt.Errorf("%w: data section has no data end record", ErrTruncated)
		}
		if op == OpDataEnd {
			sum := cr.Sum32()
			_, payload, err := p.Next()
			if err != nil {
				return err
			}
			de, err := ParseDataEnd(payload)
			if err != nil {
				return err
			}
			if de.DataSectionCRC != 0 && de.DataSectionCRC != sum {
				return fmt.Errorf("%w: data section crc %08x, stored %08x", ErrChecksumMismatch, sum, de.DataSectionCRC)
			}
			return nil
		}
		op, payload, err := p.Next()
		if err != nil {
			return err
		}
		switch op {
		case OpAttachment:
			a, err := ParseAttachment(payload)
			if err != nil {
				return err
			}
			if err := VerifyAttachment(a); err != nil {
				return err
			}
		case OpChunk:
			c, err := ParseChunk(payload)
			if err != nil {
				return err
			}
			if _, err := DecompressChunk(c, true); err != nil {
				return err
			}
		}
	}
}
