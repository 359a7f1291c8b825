package mcap

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Reconstruction controls what happens when a file's summary section is
// absent or unusable.
type Reconstruction int

const (
	// ReconstructMissing scans the data section only when the stored
	// summary cannot be used.
	ReconstructMissing Reconstruction = iota
	// ReconstructNever fails with ErrNoSummary instead of scanning.
	ReconstructNever
	// ReconstructAlways ignores any stored summary and rebuilds from the
	// data section.
	ReconstructAlways
)

// SummaryOptions configure LoadSummary. The zero value loads the stored
// summary, falls back to reconstruction when it is unusable, and skips
// checksum validation.
type SummaryOptions struct {
	Reconstruction Reconstruction
	// CheckCRC validates the summary checksum (a mismatch falls back to
	// reconstruction) and the data-section checksum (a mismatch is fatal).
	CheckCRC bool
	// Logger receives warnings and reconstruction reports. The zero value
	// is silent.
	Logger zerolog.Logger
}

// Summary is the loaded or reconstructed index of one file.
//
// Thread Safety: a Summary is immutable after LoadSummary returns and may
// be shared by concurrent readers.
type Summary struct {
	Header     *Header
	Footer     *Footer
	Statistics *Statistics

	Schemas  map[uint16]*Schema
	Channels map[uint16]*Channel

	// ChunkIndexes is sorted by message start time.
	ChunkIndexes      []*ChunkIndex
	AttachmentIndexes []*AttachmentIndex
	MetadataIndexes   []*MetadataIndex

	// MessageIndexes holds per-chunk message index entries rebuilt during
	// reconstruction, keyed by chunk start offset. Files read through their
	// stored summary leave this empty; readers load stored indexes lazily.
	MessageIndexes map[uint64]map[uint16][]MessageIndexEntry

	// DataEndOffset locates the DataEnd record, -1 when the file does not
	// carry one. DataSectionCRC is the checksum it declares.
	DataEndOffset  int64
	DataSectionCRC uint32

	// DataSectionEnd is the offset one past the last intact data-section
	// record, -1 when it could not be determined. Appending resumes here.
	DataSectionEnd int64

	// Reconstructed reports that the summary was rebuilt by scanning the
	// data section.
	Reconstructed bool

	anomalies []string
}

func newSummary() *Summary {
	return &Summary{
		Schemas:        map[uint16]*Schema{},
		Channels:       map[uint16]*Channel{},
		MessageIndexes: map[uint64]map[uint16][]MessageIndexEntry{},
		DataEndOffset:  -1,
		DataSectionEnd: -1,
	}
}

// Anomalies lists everything reconstruction had to skip or guess:
// truncation points, unreadable records, damaged chunks.
func (s *Summary) Anomalies() []string { return s.anomalies }

func (s *Summary) addAnomaly(format string, args ...any) {
	s.anomalies = append(s.anomalies, fmt.Sprintf(format, args...))
}

// NextSchemaID returns the smallest unused schema id. Ids start at 1.
func (s *Summary) NextSchemaID() uint16 {
	var max uint16
	for id := range s.Schemas {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// NextChannelID returns the smallest unused channel id. Ids start at 1.
func (s *Summary) NextChannelID() uint16 {
	var max uint16
	for id := range s.Channels {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// NextSequence returns the sequence number the next message on the channel
// should carry: sequences count from 0, so it equals the message count.
func (s *Summary) NextSequence(channelID uint16) uint32 {
	return uint32(s.ChannelMessageCount(channelID))
}

// ChannelMessageCount returns the number of messages on one channel.
func (s *Summary) ChannelMessageCount(channelID uint16) uint64 {
	if s.Statistics != nil {
		return s.Statistics.ChannelMessageCounts[channelID]
	}
	var n uint64
	for _, perChannel := range s.MessageIndexes {
		n += uint64(len(perChannel[channelID]))
	}
	return n
}

// MessageCount returns the total number of messages.
func (s *Summary) MessageCount() uint64 {
	if s.Statistics != nil {
		return s.Statistics.MessageCount
	}
	var n uint64
	for _, perChannel := range s.MessageIndexes {
		for _, entries := range perChannel {
			n += uint64(len(entries))
		}
	}
	return n
}

// ChannelIDForTopic returns the id of the first channel recorded for topic.
func (s *Summary) ChannelIDForTopic(topic string) (uint16, bool) {
	ids := make([]uint16, 0, len(s.Channels))
	for id := range s.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if s.Channels[id].Topic == topic {
			return id, true
		}
	}
	return 0, false
}

// SchemaIDForName returns the id of the first schema with the given name
// and encoding.
func (s *Summary) SchemaIDForName(name, encoding string) (uint16, bool) {
	ids := make([]uint16, 0, len(s.Schemas))
	for id := range s.Schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if sch := s.Schemas[id]; sch.Name == name && sch.Encoding == encoding {
			return id, true
		}
	}
	return 0, false
}

// TimeRange returns the log time span of the messages, (0, 0) when there
// are none.
func (s *Summary) TimeRange() (start, end uint64) {
	if s.Statistics != nil && s.Statistics.MessageCount > 0 {
		return s.Statistics.MessageStartTime, s.Statistics.MessageEndTime
	}
	if len(s.ChunkIndexes) == 0 {
		return 0, 0
	}
	start = math.MaxUint64
	for _, ci := range s.ChunkIndexes {
		if ci.MessageStartTime < start {
			start = ci.MessageStartTime
		}
		if ci.MessageEndTime > end {
			end = ci.MessageEndTime
		}
	}
	return start, end
}

// LoadSummary reads or rebuilds the file's summary per opts.
func LoadSummary(r rawio.Reader, opts SummaryOptions) (*Summary, error) {
	logger := opts.Logger
	if r.Size() < int64(2*MagicSize+FooterSize) {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the minimal file", ErrTruncated, r.Size())
	}
	if _, err := r.SeekFromStart(0); err != nil {
		return nil, fmt.Errorf("seek file start: %w", err)
	}
	if err := NewParser(r).Magic(); err != nil {
		return nil, err
	}

	var s *Summary
	if opts.Reconstruction == ReconstructAlways {
		var err error
		s, err = reconstructSummary(r, logger)
		if err != nil {
			return nil, err
		}
	} else {
		stored, err := loadStoredSummary(r, opts)
		switch {
		case err == nil:
			s = stored
		case opts.Reconstruction == ReconstructNever:
			return nil, err
		default:
			logger.Warn().Err(err).Msg("stored summary unusable, reconstructing from data section")
			s, err = reconstructSummary(r, logger)
			if err != nil {
				return nil, err
			}
		}
	}

	if opts.CheckCRC {
		if err := ValidateCRC(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// loadStoredSummary parses the footer and the summary section it locates.
func loadStoredSummary(r rawio.Reader, opts SummaryOptions) (*Summary, error) {
	footerStart := r.Size() - MagicSize - FooterSize
	if _, err := r.SeekFromStart(footerStart); err != nil {
		return nil, fmt.Errorf("%w: no room for footer", ErrTruncated)
	}
	p := NewParser(r)
	op, payload, err := p.Next()
	if err != nil {
		return nil, err
	}
	if op != OpFooter {
		return nil, fmt.Errorf("%w: expected footer at offset %d, found %s", ErrMalformedRecord, footerStart, op)
	}
	footer, err := ParseFooter(payload)
	if err != nil {
		return nil, err
	}
	if err := p.Magic(); err != nil {
		return nil, fmt.Errorf("trailing magic: %w", err)
	}

	s := newSummary()
	s.Footer = footer

	if _, err := r.SeekFromStart(MagicSize); err != nil {
		return nil, fmt.Errorf("seek data section: %w", err)
	}
	hp := NewParser(r)
	if hp.PeekOp() != OpHeader {
		return nil, fmt.Errorf("%w: first record is not a header", ErrMalformedRecord)
	}
	_, hpayload, err := hp.Next()
	if err != nil {
		return nil, err
	}
	if s.Header, err = ParseHeader(hpayload); err != nil {
		return nil, err
	}

	if footer.SummaryStart == 0 {
		return nil, fmt.Errorf("%w: footer records no summary section", ErrNoSummary)
	}
	if footer.SummaryStart > uint64(footerStart) {
		return nil, fmt.Errorf("%w: summary start %d beyond footer", ErrMalformedRecord, footer.SummaryStart)
	}

	if opts.CheckCRC && footer.SummaryCRC != 0 {
		// The stored checksum covers the summary section and the footer
		// fields through summary_offset_start.
		end := footerStart + RecordHeaderSize + 16
		got, err := ComputeRangeCRC(r, int64(footer.SummaryStart), end)
		if err != nil {
			return nil, err
		}
		if got != footer.SummaryCRC {
			return nil, fmt.Errorf("%w: summary crc %08x, stored %08x", ErrChecksumMismatch, got, footer.SummaryCRC)
		}
	}

	if _, err := r.SeekFromStart(int64(footer.SummaryStart)); err != nil {
		return nil, fmt.Errorf("%w: summary start %d out of range", ErrMalformedRecord, footer.SummaryStart)
	}
	sp := NewParser(r)
	for sp.Tell() < footerStart {
		op, payload, err := sp.Next()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpSchema:
			sch, err := ParseSchema(payload)
			if err != nil {
				return nil, err
			}
			if sch != nil {
				s.Schemas[sch.ID] = sch
			}
		case OpChannel:
			ch, err := ParseChannel(payload)
			if err != nil {
				return nil, err
			}
			s.Channels[ch.ID] = ch
		case OpStatistics:
			if s.Statistics, err = ParseStatistics(payload); err != nil {
				return nil, err
			}
		case OpChunkIndex:
			ci, err := ParseChunkIndex(payload)
			if err != nil {
				return nil, err
			}
			s.ChunkIndexes = append(s.ChunkIndexes, ci)
		case OpAttachmentIndex:
			ai, err := ParseAttachmentIndex(payload)
			if err != nil {
				return nil, err
			}
			s.AttachmentIndexes = append(s.AttachmentIndexes, ai)
		case OpMetadataIndex:
			mi, err := ParseMetadataIndex(payload)
			if err != nil {
				return nil, err
			}
			s.MetadataIndexes = append(s.MetadataIndexes, mi)
		case OpSummaryOffset:
			// Group table for partial loads; the linear parse above already
			// visited every group.
		default:
			return nil, fmt.Errorf("%w: %s record inside summary section", ErrMalformedRecord, op)
		}
	}

	// DataEnd sits immediately before the summary section.
	dataEndStart := int64(footer.SummaryStart) - DataEndSize
	if dataEndStart >= MagicSize {
		if _, err := r.SeekFromStart(dataEndStart); err == nil {
			dp := NewParser(r)
			if op, payload, err := dp.Next(); err == nil && op == OpDataEnd {
				if de, err := ParseDataEnd(payload); err == nil {
					s.DataEndOffset = dataEndStart
					s.DataSectionCRC = de.DataSectionCRC
					s.DataSectionEnd = dataEndStart
				}
			}
		}
	}

	sortChunkIndexes(s.ChunkIndexes)
	return s, nil
}

// reconstructSummary rebuilds the summary by scanning the data section. The
// scan is tolerant: a record that cannot be read stops it with everything
// salvaged so far retained.
func reconstructSummary(r rawio.Reader, logger zerolog.Logger) (*Summary, error) {
	s := newSummary()
	s.Reconstructed = true
	stats := &Statistics{
		MessageStartTime:     math.MaxUint64,
		ChannelMessageCounts: map[uint16]uint64{},
	}

	if _, err := r.SeekFromStart(MagicSize); err != nil {
		return nil, fmt.Errorf("seek data section: %w", err)
	}
	p := NewParser(r)
	var lastChunk *ChunkIndex
	end := int64(MagicSize)

scan:
	for {
		op := p.PeekOp()
		if op == OpInvalid {
			if p.Tell() < p.Size() {
				s.addAnomaly("scan stopped at offset %d with %d bytes unread", p.Tell(), p.Size()-p.Tell())
			}
			break
		}
		recordStart := p.Tell()
		op, payload, err := p.Next()
		if err != nil {
			s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
			break
		}
		recordLen := uint64(p.Tell() - recordStart)

		switch op {
		case OpHeader:
			h, err := ParseHeader(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			s.Header = h
		case OpSchema:
			sch, err := ParseSchema(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			if sch != nil {
				if _, ok := s.Schemas[sch.ID]; !ok {
					s.Schemas[sch.ID] = sch
				}
			}
		case OpChannel:
			ch, err := ParseChannel(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			if _, ok := s.Channels[ch.ID]; !ok {
				s.Channels[ch.ID] = ch
			}
		case OpMessage:
			m, err := ParseMessage(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			countMessage(stats, m)
		case OpChunk:
			c, err := ParseChunk(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			ci := &ChunkIndex{
				MessageStartTime:    c.MessageStartTime,
				MessageEndTime:      c.MessageEndTime,
				ChunkStartOffset:    uint64(recordStart),
				ChunkLength:         recordLen,
				MessageIndexOffsets: map[uint16]uint64{},
				Compression:         c.Compression,
				CompressedSize:      uint64(len(c.Records)),
				UncompressedSize:    c.UncompressedSize,
			}
			s.ChunkIndexes = append(s.ChunkIndexes, ci)
			stats.ChunkCount++
			if err := scanChunkContents(s, c, ci, stats); err != nil {
				s.addAnomaly("chunk at offset %d unreadable: %v", recordStart, err)
			}
			lastChunk = ci
			end = p.Tell()
			continue
		case OpMessageIndex:
			idx, err := ParseMessageIndex(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			if lastChunk != nil {
				lastChunk.MessageIndexOffsets[idx.ChannelID] = uint64(recordStart)
				lastChunk.MessageIndexLength += recordLen
			}
			end = p.Tell()
			continue
		case OpAttachment:
			a, err := ParseAttachment(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			s.AttachmentIndexes = append(s.AttachmentIndexes, &AttachmentIndex{
				Offset:     uint64(recordStart),
				Length:     recordLen,
				LogTime:    a.LogTime,
				CreateTime: a.CreateTime,
				DataSize:   uint64(len(a.Data)),
				Name:       a.Name,
				MediaType:  a.MediaType,
			})
			stats.AttachmentCount++
		case OpMetadata:
			m, err := ParseMetadata(payload)
			if err != nil {
				s.addAnomaly("scan stopped at offset %d: %v", recordStart, err)
				break scan
			}
			s.MetadataIndexes = append(s.MetadataIndexes, &MetadataIndex{
				Offset: uint64(recordStart),
				Length: recordLen,
				Name:   m.Name,
			})
			stats.MetadataCount++
		case OpChunkIndex, OpStatistics, OpSummaryOffset:
			// Stale index records in a damaged tail; everything they claim
			// is recomputed from the data itself.
		case OpDataEnd:
			if de, err := ParseDataEnd(payload); err == nil {
				s.DataEndOffset = recordStart
				s.DataSectionCRC = de.DataSectionCRC
			}
			break scan
		case OpFooter:
			s.addAnomaly("footer at offset %d without a data end record", recordStart)
			break scan
		}
		lastChunk = nil
		end = p.Tell()
	}
	s.DataSectionEnd = end

	if s.Header == nil {
		s.addAnomaly("no header record")
	}
	stats.SchemaCount = uint16(len(s.Schemas))
	stats.ChannelCount = uint32(len(s.Channels))
	if stats.MessageCount == 0 {
		stats.MessageStartTime = 0
	}
	s.Statistics = stats
	sortChunkIndexes(s.ChunkIndexes)

	logger.Debug().
		Uint64("messages", stats.MessageCount).
		Int("channels", len(s.Channels)).
		Int("chunks", len(s.ChunkIndexes)).
		Int("anomalies", len(s.anomalies)).
		Msg("summary reconstructed")
	return s, nil
}

// scanChunkContents walks one decompressed chunk, collecting the schemas,
// channels, statistics, and message index entries it contains.
func scanChunkContents(s *Summary, c *Chunk, ci *ChunkIndex, stats *Statistics) error {
	records, err := DecompressChunk(c, false)
	if err != nil {
		return err
	}
	p := NewParser(rawio.NewBytesReader(records))
	entries := map[uint16][]MessageIndexEntry{}
	for p.PeekOp() != OpInvalid {
		recordStart := p.Tell()
		op, payload, err := p.Next()
		if err != nil {
			return err
		}
		switch op {
		case OpSchema:
			sch, err := ParseSchema(payload)
			if err != nil {
				return err
			}
			if sch != nil {
				if _, ok := s.Schemas[sch.ID]; !ok {
					s.Schemas[sch.ID] = sch
				}
			}
		case OpChannel:
			ch, err := ParseChannel(payload)
			if err != nil {
				return err
			}
			if _, ok := s.Channels[ch.ID]; !ok {
				s.Channels[ch.ID] = ch
			}
		case OpMessage:
			m, err := ParseMessage(payload)
			if err != nil {
				return err
			}
			countMessage(stats, m)
			entries[m.ChannelID] = append(entries[m.ChannelID], MessageIndexEntry{
				LogTime: m.LogTime,
				Offset:  uint64(recordStart),
			})
		}
	}
	for _, chEntries := range entries {
		sortIndexEntries(chEntries)
	}
	s.MessageIndexes[ci.ChunkStartOffset] = entries
	return nil
}

func countMessage(stats *Statistics, m *Message) {
	stats.MessageCount++
	stats.ChannelMessageCounts[m.ChannelID]++
	if m.LogTime < stats.MessageStartTime {
		stats.MessageStartTime = m.LogTime
	}
	if m.LogTime > stats.MessageEndTime {
		stats.MessageEndTime = m.LogTime
	}
}

func sortChunkIndexes(indexes []*ChunkIndex) {
	sort.SliceStable(indexes, func(i, j int) bool {
		return indexes[i].MessageStartTime < indexes[j].MessageStartTime
	})
}

func sortIndexEntries(entries []MessageIndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LogTime != entries[j].LogTime {
			return entries[i].LogTime < entries[j].LogTime
		}
		return entries[i].Offset < entries[j].Offset
	})
}
