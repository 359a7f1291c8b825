package mcap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Parser walks the record stream of a file or a decompressed chunk.
//
// Thread Safety: a Parser owns its reader's position and must not be shared
// across goroutines. Open independent readers for concurrent parsing.
type Parser struct {
	r rawio.Reader
}

// NewParser returns a parser at the reader's current position.
func NewParser(r rawio.Reader) *Parser {
	return &Parser{r: r}
}

// Magic consumes and validates the 8-byte magic at the current position.
func (p *Parser) Magic() error {
	b, err := p.r.Read(MagicSize)
	if err != nil {
		return fmt.Errorf("%w: shorter than magic", ErrBadMagic)
	}
	if !bytes.Equal(b, Magic) {
		return fmt.Errorf("%w: % x", ErrBadMagic, b)
	}
	return nil
}

// PeekOp returns the opcode of the next record without consuming it, or
// OpInvalid when no record starts before the end of the stream.
func (p *Parser) PeekOp() OpCode {
	b, err := p.r.Peek(1)
	if err != nil {
		return OpInvalid
	}
	return OpCode(b[0])
}

// Next consumes the record at the current position and returns its opcode
// and payload. The payload may alias the reader's backing storage.
func (p *Parser) Next() (OpCode, []byte, error) {
	hdr, err := p.r.Read(RecordHeaderSize)
	if err != nil {
		return OpInvalid, nil, fmt.Errorf("%w: record header at offset %d", ErrTruncated, p.r.Tell())
	}
	op := OpCode(hdr[0])
	n := binary.LittleEndian.Uint64(hdr[1:])
	if remaining := p.r.Size() - p.r.Tell(); n > uint64(remaining) {
		return op, nil, fmt.Errorf("%w: %s record declares %d bytes with %d remaining", ErrTruncated, op, n, remaining)
	}
	payload, err := p.r.Read(int(n))
	if err != nil {
		return op, nil, fmt.Errorf("%w: %s record body", ErrTruncated, op)
	}
	return op, payload, nil
}

// Skip consumes the record at the current position without reading its
// payload.
func (p *Parser) Skip() (OpCode, error) {
	hdr, err := p.r.Read(RecordHeaderSize)
	if err != nil {
		return OpInvalid, fmt.Errorf("%w: record header at offset %d", ErrTruncated, p.r.Tell())
	}
	op := OpCode(hdr[0])
	n := binary.LittleEndian.Uint64(hdr[1:])
	if _, err := p.r.SeekFromCurrent(int64(n)); err != nil {
		return op, fmt.Errorf("%w: %s record declares %d bytes past end", ErrTruncated, op, n)
	}
	return op, nil
}

// Tell returns the current stream offset.
func (p *Parser) Tell() int64 { return p.r.Tell() }

// Size returns the stream size.
func (p *Parser) Size() int64 { return p.r.Size() }

// body is a little-endian cursor over one record payload. Errors stick so
// layouts read as straight-line field lists; done reports the first failure
// as ErrMalformedRecord.
type body struct {
	r   *rawio.BytesReader
	err error
}

func newBody(payload []byte) *body {
	return &body{r: rawio.NewBytesReader(payload)}
}

func (b *body) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	v, err := b.r.Read(n)
	if err != nil {
		b.err = err
		return nil
	}
	return v
}

func (b *body) u8() uint8 {
	v := b.take(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (b *body) u16() uint16 {
	v := b.take(2)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func (b *body) u32() uint32 {
	v := b.take(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (b *body) u64() uint64 {
	v := b.take(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func (b *body) str() string {
	n := b.u32()
	v := b.take(int(n))
	if v == nil {
		return ""
	}
	return string(v)
}

// bytes32 reads a u32-length-prefixed byte field, aliasing the payload.
func (b *body) bytes32() []byte {
	n := b.u32()
	return b.take(int(n))
}

// bytes64 reads a u64-length-prefixed byte field, aliasing the payload.
func (b *body) bytes64() []byte {
	n := b.u64()
	if b.err != nil {
		return nil
	}
	if n > uint64(b.r.Size()-b.r.Tell()) {
		b.err = rawio.ErrOutOfBounds
		return nil
	}
	return b.take(int(n))
}

// rest returns every unconsumed payload byte.
func (b *body) rest() []byte {
	if b.err != nil {
		return nil
	}
	v, err := b.r.Read(int(b.r.Size() - b.r.Tell()))
	if err != nil {
		b.err = err
		return nil
	}
	return v
}

// strMap reads a u32-byte-length-prefixed run of string pairs.
func (b *body) strMap() map[string]string {
	sub := b.bytes32()
	if b.err != nil {
		return nil
	}
	m := make(map[string]string)
	inner := newBody(sub)
	for inner.r.Tell() < inner.r.Size() {
		k := inner.str()
		v := inner.str()
		if inner.err != nil {
			b.err = inner.err
			return nil
		}
		m[k] = v
	}
	return m
}

// u16u64Map reads a u32-byte-length-prefixed run of (u16, u64) pairs.
func (b *body) u16u64Map() map[uint16]uint64 {
	sub := b.bytes32()
	if b.err != nil {
		return nil
	}
	if len(sub)%10 != 0 {
		b.err = fmt.Errorf("map byte length %d not a multiple of entry size", len(sub))
		return nil
	}
	m := make(map[uint16]uint64, len(sub)/10)
	for off := 0; off < len(sub); off += 10 {
		k := binary.LittleEndian.Uint16(sub[off:])
		m[k] = binary.LittleEndian.Uint64(sub[off+2:])
	}
	return m
}

// indexEntries reads a u32-byte-length-prefixed run of (u64, u64) pairs.
func (b *body) indexEntries() []MessageIndexEntry {
	sub := b.bytes32()
	if b.err != nil {
		return nil
	}
	if len(sub)%16 != 0 {
		b.err = fmt.Errorf("entry array byte length %d not a multiple of entry size", len(sub))
		return nil
	}
	entries := make([]MessageIndexEntry, 0, len(sub)/16)
	for off := 0; off < len(sub); off += 16 {
		entries = append(entries, MessageIndexEntry{
			LogTime: binary.LittleEndian.Uint64(sub[off:]),
			Offset:  binary.LittleEndian.Uint64(sub[off+8:]),
		})
	}
	return entries
}

func (b *body) done(record string) error {
	if b.err != nil {
		return fmt.Errorf("%s: %w: %v", record, ErrMalformedRecord, b.err)
	}
	return nil
}

// ParseHeader decodes a Header record payload.
func ParseHeader(payload []byte) (*Header, error) {
	b := newBody(payload)
	h := &Header{Profile: b.str(), Library: b.str()}
	if err := b.done("header"); err != nil {
		return nil, err
	}
	return h, nil
}

// ParseFooter decodes a Footer record payload.
func ParseFooter(payload []byte) (*Footer, error) {
	b := newBody(payload)
	f := &Footer{
		SummaryStart:       b.u64(),
		SummaryOffsetStart: b.u64(),
		SummaryCRC:         b.u32(),
	}
	if err := b.done("footer"); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseSchema decodes a Schema record payload. A record with id 0 is
// reserved-invalid and yields (nil, nil): readers ignore it.
func ParseSchema(payload []byte) (*Schema, error) {
	b := newBody(payload)
	s := &Schema{
		ID:       b.u16(),
		Name:     b.str(),
		Encoding: b.str(),
		Data:     b.bytes32(),
	}
	if err := b.done("schema"); err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return s, nil
}

// ParseChannel decodes a Channel record payload.
func ParseChannel(payload []byte) (*Channel, error) {
	b := newBody(payload)
	c := &Channel{
		ID:              b.u16(),
		SchemaID:        b.u16(),
		Topic:           b.str(),
		MessageEncoding: b.str(),
		Metadata:        b.strMap(),
	}
	if err := b.done("channel"); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseMessage decodes a Message record payload. Data aliases the payload.
func ParseMessage(payload []byte) (*Message, error) {
	b := newBody(payload)
	m := &Message{
		ChannelID:   b.u16(),
		Sequence:    b.u32(),
		LogTime:     b.u64(),
		PublishTime: b.u64(),
		Data:        b.rest(),
	}
	if err := b.done("message"); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseChunk decodes a Chunk record payload. Records aliases the payload.
func ParseChunk(payload []byte) (*Chunk, error) {
	b := newBody(payload)
	c := &Chunk{
		MessageStartTime: b.u64(),
		MessageEndTime:   b.u64(),
		UncompressedSize: b.u64(),
		UncompressedCRC:  b.u32(),
		Compression:      b.str(),
		Records:          b.bytes64(),
	}
	if err := b.done("chunk"); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseMessageIndex decodes a MessageIndex record payload.
func ParseMessageIndex(payload []byte) (*MessageIndex, error) {
	b := newBody(payload)
	idx := &MessageIndex{
		ChannelID: b.u16(),
		Records:   b.indexEntries(),
	}
	if err := b.done("message index"); err != nil {
		return nil, err
	}
	return idx, nil
}

// ParseChunkIndex decodes a ChunkIndex record payload.
func ParseChunkIndex(payload []byte) (*ChunkIndex, error) {
	b := newBody(payload)
	idx := &ChunkIndex{
		MessageStartTime:    b.u64(),
		MessageEndTime:      b.u64(),
		ChunkStartOffset:    b.u64(),
		ChunkLength:         b.u64(),
		MessageIndexOffsets: b.u16u64Map(),
		MessageIndexLength:  b.u64(),
		Compression:         b.str(),
		CompressedSize:      b.u64(),
		UncompressedSize:    b.u64(),
	}
	if err := b.done("chunk index"); err != nil {
		return nil, err
	}
	return idx, nil
}

// ParseAttachment decodes an Attachment record payload. Data aliases the
// payload.
func ParseAttachment(payload []byte) (*Attachment, error) {
	b := newBody(payload)
	a := &Attachment{
		LogTime:    b.u64(),
		CreateTime: b.u64(),
		Name:       b.str(),
		MediaType:  b.str(),
		Data:       b.bytes64(),
		CRC:        b.u32(),
	}
	if err := b.done("attachment"); err != nil {
		return nil, err
	}
	return a, nil
}

// ParseAttachmentIndex decodes an AttachmentIndex record payload.
func ParseAttachmentIndex(payload []byte) (*AttachmentIndex, error) {
	b := newBody(payload)
	idx := &AttachmentIndex{
		Offset:     b.u64(),
		Length:     b.u64(),
		LogTime:    b.u64(),
		CreateTime: b.u64(),
		DataSize:   b.u64(),
		Name:       b.str(),
		MediaType:  b.str(),
	}
	if err := b.done("attachment index"); err != nil {
		return nil, err
	}
	return idx, nil
}

// ParseStatistics decodes a Statistics record payload.
func ParseStatistics(payload []byte) (*Statistics, error) {
	b := newBody(payload)
	s := &Statistics{
		MessageCount:         b.u64(),
		SchemaCount:          b.u16(),
		ChannelCount:         b.u32(),
		AttachmentCount:      b.u32(),
		MetadataCount:        b.u32(),
		ChunkCount:           b.u32(),
		MessageStartTime:     b.u64(),
		MessageEndTime:       b.u64(),
		ChannelMessageCounts: b.u16u64Map(),
	}
	if err := b.done("statistics"); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseMetadata decodes a Metadata record payload.
func ParseMetadata(payload []byte) (*Metadata, error) {
	b := newBody(payload)
	m := &Metadata{
		Name:     b.str(),
		Metadata: b.strMap(),
	}
	if err := b.done("metadata"); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseMetadataIndex decodes a MetadataIndex record payload.
func ParseMetadataIndex(payload []byte) (*MetadataIndex, error) {
	b := newBody(payload)
	idx := &MetadataIndex{
		Offset: b.u64(),
		Length: b.u64(),
		Name:   b.str(),
	}
	if err := b.done("metadata index"); err != nil {
		return nil, err
	}
	return idx, nil
}

// ParseSummaryOffset decodes a SummaryOffset record payload.
func ParseSummaryOffset(payload []byte) (*SummaryOffset, error) {
	b := newBody(payload)
	so := &SummaryOffset{
		GroupOpCode: OpCode(b.u8()),
		GroupStart:  b.u64(),
		GroupLength: b.u64(),
	}
	if err := b.done("summary offset"); err != nil {
		return nil, err
	}
	return so, nil
}

// ParseDataEnd decodes a DataEnd record payload.
func ParseDataEnd(payload []byte) (*DataEnd, error) {
	b := newBody(payload)
	de := &DataEnd{DataSectionCRC: b.u32()}
	if err := b.done("data end"); err != nil {
		return nil, err
	}
	return de, nil
}
