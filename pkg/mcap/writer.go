package mcap

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/rawio"
)

// DefaultChunkSize is the uncompressed size at which an open chunk rolls.
const DefaultChunkSize = 1 << 20

// DefaultLibrary identifies this writer in the file header.
const DefaultLibrary = "gobag 0.1.0"

// WriterOptions configure a Writer. The zero value writes an unchunked,
// unindexed-by-chunk file; DefaultWriterOptions gives chunked zstd output.
type WriterOptions struct {
	// ChunkSize is the uncompressed size at which an open chunk is flushed.
	// Zero or negative disables chunking: records go straight to the data
	// section and the file carries no chunk indexes.
	ChunkSize int64
	// Compression names a registered chunk compression. The empty string is
	// uncompressed chunks. Ignored when chunking is disabled.
	Compression string
	// Profile and Library fill the file header.
	Profile string
	Library string
	Logger  zerolog.Logger
	// DisableChunkCRC leaves the uncompressed checksum of each chunk zero,
	// trading integrity checks for write speed.
	DisableChunkCRC bool
}

// DefaultWriterOptions returns the options CreateFile callers usually want.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		ChunkSize:   DefaultChunkSize,
		Compression: CompressionZstd,
		Library:     DefaultLibrary,
	}
}

type schemaKey struct {
	name     string
	encoding string
	data     string
}

type channelKey struct {
	schemaID        uint16
	topic           string
	messageEncoding string
}

// Writer emits a complete file: magic and header up front, records and
// chunks as they come, then data end, summary section, footer, and trailing
// magic on Close. The first write error poisons the writer; every later
// call fails with ErrWriterFailed and Close will not emit a footer over a
// half-written tail.
//
// Thread Safety: a Writer must be confined to one goroutine.
type Writer struct {
	w    *rawio.CRCWriter
	enc  *Encoder
	opts WriterOptions

	// comp is the chunk compression, nil when chunking is disabled.
	comp Compression

	chunkBuf      *rawio.BytesWriter
	chunkEnc      *Encoder
	chunkMessages map[uint16][]MessageIndexEntry
	chunkStart    uint64
	chunkEnd      uint64

	schemas       map[uint16]*Schema
	channels      map[uint16]*Channel
	schemaIDs     map[schemaKey]uint16
	channelIDs    map[channelKey]uint16
	nextSchemaID  uint16
	nextChannelID uint16

	stats             *Statistics
	chunkIndexes      []*ChunkIndex
	attachmentIndexes []*AttachmentIndex
	metadataIndexes   []*MetadataIndex

	err    error
	closed bool
}

func newWriter(out rawio.Writer, opts WriterOptions) (*Writer, error) {
	var comp Compression
	if opts.ChunkSize > 0 {
		c, err := LookupCompression(opts.Compression)
		if err != nil {
			return nil, err
		}
		comp = c
	}
	w := &Writer{
		w:             rawio.NewCRCWriter(out),
		opts:          opts,
		comp:          comp,
		chunkBuf:      rawio.NewBytesWriter(),
		chunkMessages: map[uint16][]MessageIndexEntry{},
		chunkStart:    math.MaxUint64,
		schemas:       map[uint16]*Schema{},
		channels:      map[uint16]*Channel{},
		schemaIDs:     map[schemaKey]uint16{},
		channelIDs:    map[channelKey]uint16{},
		nextSchemaID:  1,
		nextChannelID: 1,
		stats: &Statistics{
			MessageStartTime:     math.MaxUint64,
			ChannelMessageCounts: map[uint16]uint64{},
		},
	}
	w.enc = NewEncoder(w.w)
	w.chunkEnc = NewEncoder(w.chunkBuf)
	return w, nil
}

// NewWriter starts a fresh file on out, writing the leading magic and the
// header before returning.
func NewWriter(out rawio.Writer, opts WriterOptions) (*Writer, error) {
	if opts.Library == "" {
		opts.Library = DefaultLibrary
	}
	w, err := newWriter(out, opts)
	if err != nil {
		return nil, err
	}
	if err := w.enc.WriteMagic(); err != nil {
		return nil, err
	}
	if err := w.enc.WriteHeader(&Header{Profile: opts.Profile, Library: opts.Library}); err != nil {
		return nil, err
	}
	return w, nil
}

// CreateFile creates or truncates path and starts a fresh file on it.
func CreateFile(path string, opts WriterOptions) (*Writer, error) {
	fw, err := rawio.CreateFile(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(fw, opts)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// OpenAppend reopens path for writing more records. The stale data end,
// summary, and footer are truncated away; Close rewrites them covering the
// old records and the new. Schema and channel ids already in the file keep
// their values, and the data-section checksum continues over the preserved
// bytes. When the existing messages are chunked, appending stays chunked
// even if opts say otherwise, and vice versa, so that one index strategy
// covers the whole file.
func OpenAppend(path string, opts WriterOptions) (*Writer, error) {
	fr, err := rawio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	summary, err := LoadSummary(fr, SummaryOptions{Logger: opts.Logger})
	if err == nil && (summary.Statistics == nil || summary.DataSectionEnd < 0) {
		summary, err = LoadSummary(fr, SummaryOptions{
			Reconstruction: ReconstructAlways,
			Logger:         opts.Logger,
		})
	}
	if err != nil {
		fr.Close()
		return nil, err
	}

	chunked := len(summary.ChunkIndexes) > 0
	if summary.MessageCount() > 0 && !chunked && opts.ChunkSize > 0 {
		opts.Logger.Warn().Str("path", path).
			Msg("existing messages are unchunked, appending unchunked")
		opts.ChunkSize = 0
	}
	if chunked && opts.ChunkSize <= 0 {
		opts.Logger.Warn().Str("path", path).
			Msg("existing messages are chunked, appending chunked")
		opts.ChunkSize = DefaultChunkSize
	}

	truncateAt := summary.DataSectionEnd
	seed, err := ComputeRangeCRC(fr, 0, truncateAt)
	if err != nil {
		fr.Close()
		return nil, err
	}
	if err := fr.Close(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open for append: %w", err)
	}
	if err := f.Truncate(truncateAt); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate stale summary: %w", err)
	}
	if _, err := f.Seek(truncateAt, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek append position: %w", err)
	}

	w, err := newWriter(rawio.NewFileWriter(f, truncateAt), opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.w.SetCRC(seed)
	w.adoptSummary(summary)
	return w, nil
}

func (w *Writer) adoptSummary(s *Summary) {
	ids := make([]uint16, 0, len(s.Schemas))
	for id := range s.Schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sch := s.Schemas[id]
		w.schemas[id] = sch
		key := schemaKey{sch.Name, sch.Encoding, string(sch.Data)}
		if _, ok := w.schemaIDs[key]; !ok {
			w.schemaIDs[key] = id
		}
	}

	ids = ids[:0]
	for id := range s.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ch := s.Channels[id]
		w.channels[id] = ch
		key := channelKey{ch.SchemaID, ch.Topic, ch.MessageEncoding}
		if _, ok := w.channelIDs[key]; !ok {
			w.channelIDs[key] = id
		}
	}

	w.nextSchemaID = s.NextSchemaID()
	w.nextChannelID = s.NextChannelID()
	w.chunkIndexes = append(w.chunkIndexes, s.ChunkIndexes...)
	w.attachmentIndexes = append(w.attachmentIndexes, s.AttachmentIndexes...)
	w.metadataIndexes = append(w.metadataIndexes, s.MetadataIndexes...)

	if st := s.Statistics; st != nil {
		w.stats.MessageCount = st.MessageCount
		w.stats.AttachmentCount = st.AttachmentCount
		w.stats.MetadataCount = st.MetadataCount
		w.stats.ChunkCount = st.ChunkCount
		w.stats.MessageEndTime = st.MessageEndTime
		if st.MessageCount > 0 {
			w.stats.MessageStartTime = st.MessageStartTime
		}
		for id, n := range st.ChannelMessageCounts {
			w.stats.ChannelMessageCounts[id] = n
		}
	}
}

func (w *Writer) guard() error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.err)
	}
	return nil
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

// recordEncoder returns where schema, channel, and message records belong:
// the open chunk when chunking, the file otherwise.
func (w *Writer) recordEncoder() *Encoder {
	if w.comp != nil {
		return w.chunkEnc
	}
	return w.enc
}

// Schemas returns the schemas registered so far, keyed by id. The map is
// shared; treat it as read-only.
func (w *Writer) Schemas() map[uint16]*Schema { return w.schemas }

// Channels returns the channels registered so far, keyed by id. The map is
// shared; treat it as read-only.
func (w *Writer) Channels() map[uint16]*Channel { return w.channels }

// NextSequence returns the sequence number the next message on the channel
// should carry. Sequences count from 0 per channel.
func (w *Writer) NextSequence(channelID uint16) uint32 {
	return uint32(w.stats.ChannelMessageCounts[channelID])
}

// WriteSchema registers and writes a schema record with a caller-chosen id.
// Most callers want AddSchema instead.
func (w *Writer) WriteSchema(s *Schema) error {
	if err := w.guard(); err != nil {
		return err
	}
	if s.ID == 0 {
		return fmt.Errorf("schema id 0 is reserved for schemaless channels")
	}
	if _, ok := w.schemas[s.ID]; ok {
		return fmt.Errorf("schema id %d already written", s.ID)
	}
	if err := w.recordEncoder().WriteSchema(s); err != nil {
		return w.fail(err)
	}
	w.schemas[s.ID] = s
	if s.ID >= w.nextSchemaID {
		w.nextSchemaID = s.ID + 1
	}
	key := schemaKey{s.Name, s.Encoding, string(s.Data)}
	if _, ok := w.schemaIDs[key]; !ok {
		w.schemaIDs[key] = s.ID
	}
	return nil
}

// AddSchema returns the id of a schema, writing a record only the first
// time this name, encoding, and definition are seen.
func (w *Writer) AddSchema(name, encoding string, data []byte) (uint16, error) {
	if err := w.guard(); err != nil {
		return 0, err
	}
	key := schemaKey{name, encoding, string(data)}
	if id, ok := w.schemaIDs[key]; ok {
		return id, nil
	}
	id := w.nextSchemaID
	if err := w.WriteSchema(&Schema{ID: id, Name: name, Encoding: encoding, Data: data}); err != nil {
		return 0, err
	}
	return id, nil
}

// WriteChannel registers and writes a channel record with a caller-chosen
// id. Most callers want AddChannel instead.
func (w *Writer) WriteChannel(c *Channel) error {
	if err := w.guard(); err != nil {
		return err
	}
	if _, ok := w.channels[c.ID]; ok {
		return fmt.Errorf("channel id %d already written", c.ID)
	}
	if c.SchemaID != 0 {
		if _, ok := w.schemas[c.SchemaID]; !ok {
			return fmt.Errorf("%w: schema id %d for channel %q", ErrUnknownSchema, c.SchemaID, c.Topic)
		}
	}
	if err := w.recordEncoder().WriteChannel(c); err != nil {
		return w.fail(err)
	}
	w.channels[c.ID] = c
	if c.ID >= w.nextChannelID {
		w.nextChannelID = c.ID + 1
	}
	key := channelKey{c.SchemaID, c.Topic, c.MessageEncoding}
	if _, ok := w.channelIDs[key]; !ok {
		w.channelIDs[key] = c.ID
	}
	return nil
}

// AddChannel returns the id of a channel, writing a record only the first
// time this schema, topic, and message encoding combination is seen.
func (w *Writer) AddChannel(schemaID uint16, topic, messageEncoding string, metadata map[string]string) (uint16, error) {
	if err := w.guard(); err != nil {
		return 0, err
	}
	key := channelKey{schemaID, topic, messageEncoding}
	if id, ok := w.channelIDs[key]; ok {
		return id, nil
	}
	id := w.nextChannelID
	c := &Channel{
		ID:              id,
		SchemaID:        schemaID,
		Topic:           topic,
		MessageEncoding: messageEncoding,
		Metadata:        metadata,
	}
	if err := w.WriteChannel(c); err != nil {
		return 0, err
	}
	return id, nil
}

// WriteMessage appends one message. The channel must have been registered.
// When chunking, the open chunk rolls once its uncompressed size reaches
// the configured chunk size.
func (w *Writer) WriteMessage(m *Message) error {
	if err := w.guard(); err != nil {
		return err
	}
	if _, ok := w.channels[m.ChannelID]; !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownChannel, m.ChannelID)
	}
	if w.comp == nil {
		if err := w.enc.WriteMessage(m); err != nil {
			return w.fail(err)
		}
	} else {
		offset := uint64(w.chunkBuf.Tell())
		if err := w.chunkEnc.WriteMessage(m); err != nil {
			return w.fail(err)
		}
		w.chunkMessages[m.ChannelID] = append(w.chunkMessages[m.ChannelID], MessageIndexEntry{
			LogTime: m.LogTime,
			Offset:  offset,
		})
		if m.LogTime < w.chunkStart {
			w.chunkStart = m.LogTime
		}
		if m.LogTime > w.chunkEnd {
			w.chunkEnd = m.LogTime
		}
	}
	countMessage(w.stats, m)
	if w.comp != nil && w.chunkBuf.Tell() >= w.opts.ChunkSize {
		return w.flushChunk()
	}
	return nil
}

// FlushChunk closes the open chunk early, writing it with its message
// index records. A no-op when the chunk is empty or chunking is disabled.
func (w *Writer) FlushChunk() error {
	if err := w.guard(); err != nil {
		return err
	}
	return w.flushChunk()
}

func (w *Writer) flushChunk() error {
	if w.comp == nil || w.chunkBuf.Len() == 0 {
		return nil
	}
	records := w.chunkBuf.Bytes()
	var uncompressedCRC uint32
	if !w.opts.DisableChunkCRC {
		uncompressedCRC = crc32.ChecksumIEEE(records)
	}
	compressed, err := w.comp.Compress(records)
	if err != nil {
		return w.fail(fmt.Errorf("compress chunk: %w", err))
	}

	tsStart, tsEnd := w.chunkStart, w.chunkEnd
	if tsStart == math.MaxUint64 {
		tsStart = 0
	}
	chunkStartOffset := w.w.Tell()
	if err := w.enc.WriteChunk(&Chunk{
		MessageStartTime: tsStart,
		MessageEndTime:   tsEnd,
		UncompressedSize: uint64(len(records)),
		UncompressedCRC:  uncompressedCRC,
		Compression:      w.comp.Name(),
		Records:          compressed,
	}); err != nil {
		return w.fail(err)
	}
	chunkLength := uint64(w.w.Tell() - chunkStartOffset)

	channelIDs := make([]uint16, 0, len(w.chunkMessages))
	for id := range w.chunkMessages {
		channelIDs = append(channelIDs, id)
	}
	sort.Slice(channelIDs, func(i, j int) bool { return channelIDs[i] < channelIDs[j] })

	indexOffsets := map[uint16]uint64{}
	var indexLength uint64
	for _, id := range channelIDs {
		entries := w.chunkMessages[id]
		sortIndexEntries(entries)
		offset := w.w.Tell()
		if err := w.enc.WriteMessageIndex(&MessageIndex{ChannelID: id, Records: entries}); err != nil {
			return w.fail(err)
		}
		indexOffsets[id] = uint64(offset)
		indexLength += uint64(w.w.Tell() - offset)
	}

	w.chunkIndexes = append(w.chunkIndexes, &ChunkIndex{
		MessageStartTime:    tsStart,
		MessageEndTime:      tsEnd,
		ChunkStartOffset:    uint64(chunkStartOffset),
		ChunkLength:         chunkLength,
		MessageIndexOffsets: indexOffsets,
		MessageIndexLength:  indexLength,
		Compression:         w.comp.Name(),
		CompressedSize:      uint64(len(compressed)),
		UncompressedSize:    uint64(len(records)),
	})
	w.stats.ChunkCount++

	w.chunkBuf.Reset()
	w.chunkMessages = map[uint16][]MessageIndexEntry{}
	w.chunkStart = math.MaxUint64
	w.chunkEnd = 0
	return nil
}

// WriteAttachment flushes the open chunk, writes the attachment with a
// freshly computed checksum, and records an index entry for it.
func (w *Writer) WriteAttachment(a *Attachment) error {
	if err := w.guard(); err != nil {
		return err
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	offset := w.w.Tell()
	if err := w.enc.WriteAttachment(a); err != nil {
		return w.fail(err)
	}
	w.attachmentIndexes = append(w.attachmentIndexes, &AttachmentIndex{
		Offset:     uint64(offset),
		Length:     uint64(w.w.Tell() - offset),
		LogTime:    a.LogTime,
		CreateTime: a.CreateTime,
		DataSize:   uint64(len(a.Data)),
		Name:       a.Name,
		MediaType:  a.MediaType,
	})
	w.stats.AttachmentCount++
	return nil
}

// WriteMetadata flushes the open chunk, writes the metadata record, and
// records an index entry for it.
func (w *Writer) WriteMetadata(m *Metadata) error {
	if err := w.guard(); err != nil {
		return err
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	offset := w.w.Tell()
	if err := w.enc.WriteMetadata(m); err != nil {
		return w.fail(err)
	}
	w.metadataIndexes = append(w.metadataIndexes, &MetadataIndex{
		Offset: uint64(offset),
		Length: uint64(w.w.Tell() - offset),
		Name:   m.Name,
	})
	w.stats.MetadataCount++
	return nil
}

// Close flushes the open chunk and writes the data end record, the summary
// section with its offset table, the footer, and the trailing magic. A
// poisoned writer closes the underlying sink without emitting any of them.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		w.closed = true
		w.w.Close()
		return fmt.Errorf("%w: %v", ErrWriterFailed, w.err)
	}
	w.closed = true

	fail := func(err error) error {
		w.w.Close()
		return err
	}

	if err := w.flushChunk(); err != nil {
		return fail(err)
	}

	dataCRC := w.w.Sum32()
	if err := w.enc.WriteDataEnd(&DataEnd{DataSectionCRC: dataCRC}); err != nil {
		return fail(err)
	}

	summaryStart := w.w.Tell()
	w.w.ResetCRC()

	w.stats.SchemaCount = uint16(len(w.schemas))
	w.stats.ChannelCount = uint32(len(w.channels))
	if w.stats.MessageCount == 0 {
		w.stats.MessageStartTime = 0
	}

	var offsets []*SummaryOffset
	group := func(op OpCode, write func() error) error {
		start := w.w.Tell()
		if err := write(); err != nil {
			return err
		}
		if length := w.w.Tell() - start; length > 0 {
			offsets = append(offsets, &SummaryOffset{
				GroupOpCode: op,
				GroupStart:  uint64(start),
				GroupLength: uint64(length),
			})
		}
		return nil
	}

	if err := group(OpSchema, w.writeSchemaGroup); err != nil {
		return fail(err)
	}
	if err := group(OpChannel, w.writeChannelGroup); err != nil {
		return fail(err)
	}
	if err := group(OpAttachmentIndex, w.writeAttachmentIndexGroup); err != nil {
		return fail(err)
	}
	if err := group(OpMetadataIndex, w.writeMetadataIndexGroup); err != nil {
		return fail(err)
	}
	if err := group(OpChunkIndex, w.writeChunkIndexGroup); err != nil {
		return fail(err)
	}
	if err := group(OpStatistics, func() error { return w.enc.WriteStatistics(w.stats) }); err != nil {
		return fail(err)
	}

	summaryOffsetStart := w.w.Tell()
	for _, so := range offsets {
		if err := w.enc.WriteSummaryOffset(so); err != nil {
			return fail(err)
		}
	}

	// The summary checksum covers everything from the summary start through
	// the footer's summary_offset_start field, so the footer goes out in
	// two pieces.
	var head [RecordHeaderSize + 16]byte
	head[0] = byte(OpFooter)
	binary.LittleEndian.PutUint64(head[1:], uint64(FooterPayloadSize))
	binary.LittleEndian.PutUint64(head[9:], uint64(summaryStart))
	binary.LittleEndian.PutUint64(head[17:], uint64(summaryOffsetStart))
	if _, err := w.w.Write(head[:]); err != nil {
		return fail(fmt.Errorf("write footer record: %w", err))
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], w.w.Sum32())
	if _, err := w.w.Write(crcBuf[:]); err != nil {
		return fail(fmt.Errorf("write footer record: %w", err))
	}

	if err := w.enc.WriteMagic(); err != nil {
		return fail(err)
	}
	return w.w.Close()
}

func (w *Writer) writeSchemaGroup() error {
	ids := make([]uint16, 0, len(w.schemas))
	for id := range w.schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := w.enc.WriteSchema(w.schemas[id]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeChannelGroup() error {
	ids := make([]uint16, 0, len(w.channels))
	for id := range w.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := w.enc.WriteChannel(w.channels[id]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeAttachmentIndexGroup() error {
	for _, ai := range w.attachmentIndexes {
		if err := w.enc.WriteAttachmentIndex(ai); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeMetadataIndexGroup() error {
	for _, mi := range w.metadataIndexes {
		if err := w.enc.WriteMetadataIndex(mi); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeChunkIndexGroup() error {
	for _, ci := range w.chunkIndexes {
		if err := w.enc.WriteChunkIndex(ci); err != nil {
			return err
		}
	}
	return nil
}
