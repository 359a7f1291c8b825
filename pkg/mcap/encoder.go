package mcap

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Encoder writes records onto a rawio.Writer. Map-valued fields are emitted
// with sorted keys so identical records always produce identical bytes.
//
// Thread Safety: an Encoder reuses an internal payload buffer and must not
// be shared across goroutines.
type Encoder struct {
	w       rawio.Writer
	buf     *rawio.BytesWriter
	scratch [RecordHeaderSize]byte
}

// NewEncoder returns an encoder writing at w's current position.
func NewEncoder(w rawio.Writer) *Encoder {
	return &Encoder{w: w, buf: rawio.NewBytesWriter()}
}

// WriteMagic emits the 8-byte magic.
func (e *Encoder) WriteMagic() error {
	if _, err := e.w.Write(Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	return nil
}

// writeRecord emits the record envelope followed by the payload parts.
func (e *Encoder) writeRecord(op OpCode, parts ...[]byte) error {
	var n uint64
	for _, p := range parts {
		n += uint64(len(p))
	}
	e.scratch[0] = byte(op)
	binary.LittleEndian.PutUint64(e.scratch[1:], n)
	if _, err := e.w.Write(e.scratch[:]); err != nil {
		return fmt.Errorf("write %s record: %w", op, err)
	}
	for _, p := range parts {
		if _, err := e.w.Write(p); err != nil {
			return fmt.Errorf("write %s record: %w", op, err)
		}
	}
	return nil
}

// payload builds one record payload in the encoder's scratch buffer. The
// returned builder is valid until the next payload call.
func (e *Encoder) payload() *payloadWriter {
	e.buf.Reset()
	return &payloadWriter{w: e.buf}
}

type payloadWriter struct {
	w   *rawio.BytesWriter
	tmp [8]byte
}

func (p *payloadWriter) u8(v uint8) {
	p.tmp[0] = v
	p.w.Write(p.tmp[:1])
}

func (p *payloadWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(p.tmp[:2], v)
	p.w.Write(p.tmp[:2])
}

func (p *payloadWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(p.tmp[:4], v)
	p.w.Write(p.tmp[:4])
}

func (p *payloadWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(p.tmp[:8], v)
	p.w.Write(p.tmp[:8])
}

func (p *payloadWriter) str(s string) {
	p.u32(uint32(len(s)))
	p.w.Write([]byte(s))
}

func (p *payloadWriter) bytes32(b []byte) {
	p.u32(uint32(len(b)))
	p.w.Write(b)
}

func (p *payloadWriter) bytes64(b []byte) {
	p.u64(uint64(len(b)))
	p.w.Write(b)
}

func (p *payloadWriter) strMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	var size uint32
	for k, v := range m {
		keys = append(keys, k)
		size += 8 + uint32(len(k)) + uint32(len(v))
	}
	sort.Strings(keys)
	p.u32(size)
	for _, k := range keys {
		p.str(k)
		p.str(m[k])
	}
}

func (p *payloadWriter) u16u64Map(m map[uint16]uint64) {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	p.u32(uint32(10 * len(m)))
	for _, k := range keys {
		p.u16(k)
		p.u64(m[k])
	}
}

func (p *payloadWriter) indexEntries(entries []MessageIndexEntry) {
	p.u32(uint32(16 * len(entries)))
	for _, entry := range entries {
		p.u64(entry.LogTime)
		p.u64(entry.Offset)
	}
}

func (p *payloadWriter) bytes() []byte { return p.w.Bytes() }

// WriteHeader emits a Header record.
func (e *Encoder) WriteHeader(h *Header) error {
	p := e.payload()
	p.str(h.Profile)
	p.str(h.Library)
	return e.writeRecord(OpHeader, p.bytes())
}

// WriteFooter emits a Footer record.
func (e *Encoder) WriteFooter(f *Footer) error {
	p := e.payload()
	p.u64(f.SummaryStart)
	p.u64(f.SummaryOffsetStart)
	p.u32(f.SummaryCRC)
	return e.writeRecord(OpFooter, p.bytes())
}

// WriteSchema emits a Schema record.
func (e *Encoder) WriteSchema(s *Schema) error {
	p := e.payload()
	p.u16(s.ID)
	p.str(s.Name)
	p.str(s.Encoding)
	p.bytes32(s.Data)
	return e.writeRecord(OpSchema, p.bytes())
}

// WriteChannel emits a Channel record.
func (e *Encoder) WriteChannel(c *Channel) error {
	p := e.payload()
	p.u16(c.ID)
	p.u16(c.SchemaID)
	p.str(c.Topic)
	p.str(c.MessageEncoding)
	p.strMap(c.Metadata)
	return e.writeRecord(OpChannel, p.bytes())
}

// WriteMessage emits a Message record. The data bytes are written directly,
// not staged through the payload buffer.
func (e *Encoder) WriteMessage(m *Message) error {
	p := e.payload()
	p.u16(m.ChannelID)
	p.u32(m.Sequence)
	p.u64(m.LogTime)
	p.u64(m.PublishTime)
	return e.writeRecord(OpMessage, p.bytes(), m.Data)
}

// WriteChunk emits a Chunk record. The records bytes are written directly.
func (e *Encoder) WriteChunk(c *Chunk) error {
	p := e.payload()
	p.u64(c.MessageStartTime)
	p.u64(c.MessageEndTime)
	p.u64(c.UncompressedSize)
	p.u32(c.UncompressedCRC)
	p.str(c.Compression)
	p.u64(uint64(len(c.Records)))
	return e.writeRecord(OpChunk, p.bytes(), c.Records)
}

// WriteMessageIndex emits a MessageIndex record.
func (e *Encoder) WriteMessageIndex(idx *MessageIndex) error {
	p := e.payload()
	p.u16(idx.ChannelID)
	p.indexEntries(idx.Records)
	return e.writeRecord(OpMessageIndex, p.bytes())
}

// WriteChunkIndex emits a ChunkIndex record.
func (e *Encoder) WriteChunkIndex(idx *ChunkIndex) error {
	p := e.payload()
	p.u64(idx.MessageStartTime)
	p.u64(idx.MessageEndTime)
	p.u64(idx.ChunkStartOffset)
	p.u64(idx.ChunkLength)
	p.u16u64Map(idx.MessageIndexOffsets)
	p.u64(idx.MessageIndexLength)
	p.str(idx.Compression)
	p.u64(idx.CompressedSize)
	p.u64(idx.UncompressedSize)
	return e.writeRecord(OpChunkIndex, p.bytes())
}

// WriteAttachment emits an Attachment record. The stored CRC is always
// recomputed from the emitted fields.
func (e *Encoder) WriteAttachment(a *Attachment) error {
	p := e.payload()
	p.u64(a.LogTime)
	p.u64(a.CreateTime)
	p.str(a.Name)
	p.str(a.MediaType)
	p.u64(uint64(len(a.Data)))
	head := p.bytes()

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], attachmentCRC(head, a.Data))
	return e.writeRecord(OpAttachment, head, a.Data, crc[:])
}

// WriteAttachmentIndex emits an AttachmentIndex record.
func (e *Encoder) WriteAttachmentIndex(idx *AttachmentIndex) error {
	p := e.payload()
	p.u64(idx.Offset)
	p.u64(idx.Length)
	p.u64(idx.LogTime)
	p.u64(idx.CreateTime)
	p.u64(idx.DataSize)
	p.str(idx.Name)
	p.str(idx.MediaType)
	return e.writeRecord(OpAttachmentIndex, p.bytes())
}

// WriteStatistics emits a Statistics record.
func (e *Encoder) WriteStatistics(s *Statistics) error {
	p := e.payload()
	p.u64(s.MessageCount)
	p.u16(s.SchemaCount)
	p.u32(s.ChannelCount)
	p.u32(s.AttachmentCount)
	p.u32(s.MetadataCount)
	p.u32(s.ChunkCount)
	p.u64(s.MessageStartTime)
	p.u64(s.MessageEndTime)
	p.u16u64Map(s.ChannelMessageCounts)
	return e.writeRecord(OpStatistics, p.bytes())
}

// WriteMetadata emits a Metadata record.
func (e *Encoder) WriteMetadata(m *Metadata) error {
	p := e.payload()
	p.str(m.Name)
	p.strMap(m.Metadata)
	return e.writeRecord(OpMetadata, p.bytes())
}

// WriteMetadataIndex emits a MetadataIndex record.
func (e *Encoder) WriteMetadataIndex(idx *MetadataIndex) error {
	p := e.payload()
	p.u64(idx.Offset)
	p.u64(idx.Length)
	p.str(idx.Name)
	return e.writeRecord(OpMetadataIndex, p.bytes())
}

// WriteSummaryOffset emits a SummaryOffset record.
func (e *Encoder) WriteSummaryOffset(so *SummaryOffset) error {
	p := e.payload()
	p.u8(byte(so.GroupOpCode))
	p.u64(so.GroupStart)
	p.u64(so.GroupLength)
	return e.writeRecord(OpSummaryOffset, p.bytes())
}

// WriteDataEnd emits a DataEnd record.
func (e *Encoder) WriteDataEnd(de *DataEnd) error {
	p := e.payload()
	p.u32(de.DataSectionCRC)
	return e.writeRecord(OpDataEnd, p.bytes())
}
