package mcap

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/rawio"
)

// Order selects the sequence in which Messages yields records.
type Order int

const (
	// LogTimeOrder yields messages by ascending log time. Ties break by
	// sequence number, then channel id.
	LogTimeOrder Order = iota
	// ReverseLogTimeOrder yields messages by descending log time. Ties
	// break the same way as LogTimeOrder.
	ReverseLogTimeOrder
	// FileOrder yields messages in the order they appear in the file.
	FileOrder
)

// Query selects and orders messages for Reader.Messages.
type Query struct {
	// Channels limits the result to these channel ids. Nil selects all.
	Channels []uint16
	// Start and End bound the log time range as [Start, End). End zero
	// means unbounded.
	Start uint64
	End   uint64
	Order Order
}

// DefaultChunkCacheSize is the number of decompressed chunks a Reader keeps.
const DefaultChunkCacheSize = 8

// ReaderOptions configure a Reader. The zero value loads the stored summary
// when possible and skips checksum validation.
type ReaderOptions struct {
	// CheckCRC validates the data-section checksum at open and chunk
	// checksums on every decompression.
	CheckCRC       bool
	Reconstruction Reconstruction
	Logger         zerolog.Logger
	// ChunkCacheSize overrides DefaultChunkCacheSize when positive.
	ChunkCacheSize int
}

// Reader provides indexed access to one file.
//
// Thread Safety: a Reader and the iterators it creates share a file cursor
// and must be confined to one goroutine. Open separate Readers for
// concurrent access; FileReader instances over the same file do not
// interfere.
type Reader struct {
	r       rawio.Reader
	summary *Summary
	opts    ReaderOptions

	cache *chunkCache

	// indexCache holds message index entries loaded per chunk, keyed by
	// chunk start offset. ordinals holds per-channel refs in file order.
	indexCache map[uint64]map[uint16][]MessageIndexEntry
	ordinals   map[uint16][]msgRef
	looseRefs  map[uint16][]msgRef
	looseDone  bool
}

// NewReader loads the file's summary and prepares indexed access.
func NewReader(r rawio.Reader, opts ReaderOptions) (*Reader, error) {
	summary, err := LoadSummary(r, SummaryOptions{
		Reconstruction: opts.Reconstruction,
		CheckCRC:       opts.CheckCRC,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	size := opts.ChunkCacheSize
	if size <= 0 {
		size = DefaultChunkCacheSize
	}
	return &Reader{
		r:          r,
		summary:    summary,
		opts:       opts,
		cache:      newChunkCache(size),
		indexCache: map[uint64]map[uint16][]MessageIndexEntry{},
	}, nil
}

// OpenFile memory-maps path and loads its summary.
func OpenFile(path string, opts ReaderOptions) (*Reader, error) {
	r, err := rawio.OpenMmap(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(r, opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	return rd, nil
}

// Close releases the underlying source.
func (r *Reader) Close() error { return r.r.Close() }

// Summary returns the loaded or reconstructed summary.
func (r *Reader) Summary() *Summary { return r.summary }

// Header returns the file header, nil when reconstruction found none.
func (r *Reader) Header() *Header { return r.summary.Header }

// Schemas returns all known schemas keyed by id. The map is shared; treat
// it as read-only.
func (r *Reader) Schemas() map[uint16]*Schema { return r.summary.Schemas }

// Channels returns all known channels keyed by id. The map is shared; treat
// it as read-only.
func (r *Reader) Channels() map[uint16]*Channel { return r.summary.Channels }

// Statistics returns the file statistics, nil when the stored summary
// carries none.
func (r *Reader) Statistics() *Statistics { return r.summary.Statistics }

// TimeRange returns the log time span of the messages, (0, 0) when there
// are none.
func (r *Reader) TimeRange() (start, end uint64) { return r.summary.TimeRange() }

// Attachments returns the attachments with the given name, all of them when
// name is empty. Lookup goes through the attachment indexes.
func (r *Reader) Attachments(name string) ([]*Attachment, error) {
	var out []*Attachment
	for _, ai := range r.summary.AttachmentIndexes {
		if name != "" && ai.Name != name {
			continue
		}
		if _, err := r.r.SeekFromStart(int64(ai.Offset)); err != nil {
			return nil, fmt.Errorf("seek attachment %q at %d: %w", ai.Name, ai.Offset, err)
		}
		p := NewParser(r.r)
		op, payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		if op != OpAttachment {
			return nil, fmt.Errorf("%w: expected attachment at offset %d, found %s", ErrMalformedRecord, ai.Offset, op)
		}
		a, err := ParseAttachment(payload)
		if err != nil {
			return nil, err
		}
		if r.opts.CheckCRC {
			if err := VerifyAttachment(a); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Metadata returns the metadata records with the given name, all of them
// when name is empty. Lookup goes through the metadata indexes.
func (r *Reader) Metadata(name string) ([]*Metadata, error) {
	var out []*Metadata
	for _, mi := range r.summary.MetadataIndexes {
		if name != "" && mi.Name != name {
			continue
		}
		if _, err := r.r.SeekFromStart(int64(mi.Offset)); err != nil {
			return nil, fmt.Errorf("seek metadata %q at %d: %w", mi.Name, mi.Offset, err)
		}
		p := NewParser(r.r)
		op, payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		if op != OpMetadata {
			return nil, fmt.Errorf("%w: expected metadata at offset %d, found %s", ErrMalformedRecord, mi.Offset, op)
		}
		m, err := ParseMetadata(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Messages returns an iterator over the messages selected by q. Files with
// chunk indexes are read through them, skipping chunks outside the time
// range without decompressing; unchunked files are scanned once and the
// offsets cached.
func (r *Reader) Messages(q Query) (*MessageIterator, error) {
	start, end := q.Start, q.End
	if end == 0 {
		end = math.MaxUint64
	}
	var chans map[uint16]bool
	if q.Channels != nil {
		chans = make(map[uint16]bool, len(q.Channels))
		for _, id := range q.Channels {
			chans[id] = true
		}
	}
	if len(r.summary.ChunkIndexes) > 0 {
		return r.chunkIterator(q.Order, chans, start, end)
	}
	return r.looseIterator(q.Order, chans, start, end)
}

func (r *Reader) chunkIterator(order Order, chans map[uint16]bool, start, end uint64) (*MessageIterator, error) {
	selected := make([]*ChunkIndex, 0, len(r.summary.ChunkIndexes))
	for _, ci := range r.summary.ChunkIndexes {
		if ci.MessageEndTime < start || ci.MessageStartTime >= end {
			continue
		}
		selected = append(selected, ci)
	}

	switch order {
	case FileOrder:
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].ChunkStartOffset < selected[j].ChunkStartOffset
		})
	case ReverseLogTimeOrder:
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].MessageEndTime > selected[j].MessageEndTime
		})
	default:
		// Summary order is already ascending by message start time.
	}

	cursors := make([]cursor, 0, len(selected))
	for _, ci := range selected {
		cursors = append(cursors, &lazyChunkCursor{
			rd:    r,
			ci:    ci,
			chans: chans,
			start: start,
			end:   end,
			order: order,
		})
	}

	if order != FileOrder && chunksOverlap(selected) {
		return newMergedIterator(cursors, order)
	}
	return &MessageIterator{cursors: cursors}, nil
}

func (r *Reader) looseIterator(order Order, chans map[uint16]bool, start, end uint64) (*MessageIterator, error) {
	loose, err := r.looseScan()
	if err != nil {
		return nil, err
	}
	var refs []msgRef
	for ch, chRefs := range loose {
		if chans != nil && !chans[ch] {
			continue
		}
		for _, ref := range chRefs {
			if ref.logTime < start || ref.logTime >= end {
				continue
			}
			refs = append(refs, ref)
		}
	}
	orderRefs(refs, order)
	cur := &entryCursor{rd: r, refs: refs, byTime: order != FileOrder}
	return &MessageIterator{cursors: []cursor{cur}}, nil
}

// chunksOverlap reports whether any two chunks share log times. Overlapping
// chunks need a merge; disjoint chunks concatenate.
func chunksOverlap(indexes []*ChunkIndex) bool {
	if len(indexes) < 2 {
		return false
	}
	sorted := make([]*ChunkIndex, len(indexes))
	copy(sorted, indexes)
	sortChunkIndexes(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MessageStartTime <= sorted[i-1].MessageEndTime {
			return true
		}
	}
	return false
}

// MessageCount returns the number of messages on one channel, preferring
// statistics over index sums over a scan.
func (r *Reader) MessageCount(channelID uint16) (uint64, error) {
	if s := r.summary.Statistics; s != nil {
		return s.ChannelMessageCounts[channelID], nil
	}
	refs, err := r.channelOrdinals(channelID)
	if err != nil {
		return 0, err
	}
	return uint64(len(refs)), nil
}

// TotalMessageCount returns the number of messages across all channels.
func (r *Reader) TotalMessageCount() (uint64, error) {
	if s := r.summary.Statistics; s != nil {
		return s.MessageCount, nil
	}
	var n uint64
	for id := range r.summary.Channels {
		c, err := r.MessageCount(id)
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n, nil
}

// MessageAtIndex returns the i-th message of the channel counting from 0 in
// file order.
func (r *Reader) MessageAtIndex(channelID uint16, i int) (*Message, error) {
	refs, err := r.channelOrdinals(channelID)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(refs) {
		return nil, fmt.Errorf("%w: message %d of %d on channel %d", ErrIndexOutOfRange, i, len(refs), channelID)
	}
	return r.messageAt(refs[i])
}

// MessagesByIndex returns an iterator over the channel's messages with file
// order ordinals in [start, end).
func (r *Reader) MessagesByIndex(channelID uint16, start, end int) (*MessageIterator, error) {
	refs, err := r.channelOrdinals(channelID)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || end > len(refs) {
		return nil, fmt.Errorf("%w: range [%d, %d) of %d on channel %d", ErrIndexOutOfRange, start, end, len(refs), channelID)
	}
	cur := &entryCursor{rd: r, refs: refs[start:end], byTime: false}
	return &MessageIterator{cursors: []cursor{cur}}, nil
}

// channelOrdinals returns refs to the channel's messages in file order.
func (r *Reader) channelOrdinals(channelID uint16) ([]msgRef, error) {
	if refs, ok := r.ordinals[channelID]; ok {
		return refs, nil
	}
	var refs []msgRef
	if len(r.summary.ChunkIndexes) > 0 {
		chunks := make([]*ChunkIndex, len(r.summary.ChunkIndexes))
		copy(chunks, r.summary.ChunkIndexes)
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].ChunkStartOffset < chunks[j].ChunkStartOffset
		})
		for _, ci := range chunks {
			entries, err := r.chunkEntries(ci)
			if err != nil {
				return nil, err
			}
			byOffset := make([]MessageIndexEntry, len(entries[channelID]))
			copy(byOffset, entries[channelID])
			sort.SliceStable(byOffset, func(i, j int) bool {
				return byOffset[i].Offset < byOffset[j].Offset
			})
			for _, e := range byOffset {
				refs = append(refs, msgRef{ci: ci, logTime: e.LogTime, offset: e.Offset})
			}
		}
	} else {
		loose, err := r.looseScan()
		if err != nil {
			return nil, err
		}
		refs = loose[channelID]
	}
	if r.ordinals == nil {
		r.ordinals = map[uint16][]msgRef{}
	}
	r.ordinals[channelID] = refs
	return refs, nil
}

// looseScan walks the data section of an unchunked file once, recording the
// offset and log time of every message per channel in file order. A record
// that cannot be read stops the scan with everything before it retained.
func (r *Reader) looseScan() (map[uint16][]msgRef, error) {
	if r.looseDone {
		return r.looseRefs, nil
	}
	refs := map[uint16][]msgRef{}
	if _, err := r.r.SeekFromStart(MagicSize); err != nil {
		return nil, fmt.Errorf("seek data section: %w", err)
	}
	p := NewParser(r.r)
scan:
	for {
		op := p.PeekOp()
		switch op {
		case OpInvalid, OpFooter:
			break scan
		case OpMessage:
			recordStart := p.Tell()
			_, payload, err := p.Next()
			if err != nil {
				r.opts.Logger.Debug().Err(err).Int64("offset", recordStart).Msg("message scan stopped")
				break scan
			}
			m, err := ParseMessage(payload)
			if err != nil {
				r.opts.Logger.Debug().Err(err).Int64("offset", recordStart).Msg("message scan stopped")
				break scan
			}
			refs[m.ChannelID] = append(refs[m.ChannelID], msgRef{
				logTime: m.LogTime,
				offset:  uint64(recordStart),
			})
		case OpDataEnd:
			break scan
		default:
			if _, err := p.Skip(); err != nil {
				r.opts.Logger.Debug().Err(err).Int64("offset", p.Tell()).Msg("message scan stopped")
				break scan
			}
		}
	}
	r.looseRefs = refs
	r.looseDone = true
	return refs, nil
}

// msgRef locates one message: inside the chunk ci at offset within its
// decompressed records, or at an absolute file offset when ci is nil.
type msgRef struct {
	ci      *ChunkIndex
	logTime uint64
	offset  uint64
}

// messageAt reads and parses the message a ref points to.
func (r *Reader) messageAt(ref msgRef) (*Message, error) {
	var p *Parser
	if ref.ci == nil {
		if _, err := r.r.SeekFromStart(int64(ref.offset)); err != nil {
			return nil, fmt.Errorf("seek message at %d: %w", ref.offset, err)
		}
		p = NewParser(r.r)
	} else {
		records, err := r.chunkRecords(ref.ci)
		if err != nil {
			return nil, err
		}
		br := rawio.NewBytesReader(records)
		if _, err := br.SeekFromStart(int64(ref.offset)); err != nil {
			return nil, fmt.Errorf("seek message at %d in chunk: %w", ref.offset, err)
		}
		p = NewParser(br)
	}
	op, payload, err := p.Next()
	if err != nil {
		return nil, err
	}
	if op != OpMessage {
		return nil, fmt.Errorf("%w: expected message at offset %d, found %s", ErrMalformedRecord, ref.offset, op)
	}
	return ParseMessage(payload)
}

// chunkRecords returns the decompressed records of one chunk, serving
// repeat reads from the cache.
func (r *Reader) chunkRecords(ci *ChunkIndex) ([]byte, error) {
	if records, ok := r.cache.get(ci.ChunkStartOffset); ok {
		return records, nil
	}
	if _, err := r.r.SeekFromStart(int64(ci.ChunkStartOffset)); err != nil {
		return nil, fmt.Errorf("seek chunk at %d: %w", ci.ChunkStartOffset, err)
	}
	p := NewParser(r.r)
	op, payload, err := p.Next()
	if err != nil {
		return nil, err
	}
	if op != OpChunk {
		return nil, fmt.Errorf("%w: expected chunk at offset %d, found %s", ErrMalformedRecord, ci.ChunkStartOffset, op)
	}
	c, err := ParseChunk(payload)
	if err != nil {
		return nil, err
	}
	records, err := DecompressChunk(c, r.opts.CheckCRC)
	if err != nil {
		return nil, err
	}
	r.cache.put(ci.ChunkStartOffset, records)
	return records, nil
}

// chunkEntries returns the message index entries of one chunk per channel,
// sorted by log time then offset: from reconstruction when the summary was
// rebuilt, from stored message index records when the chunk has them, and
// by scanning the decompressed chunk otherwise.
func (r *Reader) chunkEntries(ci *ChunkIndex) (map[uint16][]MessageIndexEntry, error) {
	if entries, ok := r.indexCache[ci.ChunkStartOffset]; ok {
		return entries, nil
	}
	if entries, ok := r.summary.MessageIndexes[ci.ChunkStartOffset]; ok {
		return entries, nil
	}
	if len(ci.MessageIndexOffsets) > 0 {
		entries, err := r.storedEntries(ci)
		if err == nil {
			r.indexCache[ci.ChunkStartOffset] = entries
			return entries, nil
		}
		r.opts.Logger.Debug().Err(err).
			Uint64("chunk_offset", ci.ChunkStartOffset).
			Msg("stored message index unusable, rebuilding from chunk")
	}
	records, err := r.chunkRecords(ci)
	if err != nil {
		return nil, err
	}
	entries, err := scanEntries(records)
	if err != nil {
		return nil, err
	}
	r.indexCache[ci.ChunkStartOffset] = entries
	return entries, nil
}

func (r *Reader) storedEntries(ci *ChunkIndex) (map[uint16][]MessageIndexEntry, error) {
	offsets := make([]uint64, 0, len(ci.MessageIndexOffsets))
	for _, off := range ci.MessageIndexOffsets {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	entries := map[uint16][]MessageIndexEntry{}
	for _, off := range offsets {
		if _, err := r.r.SeekFromStart(int64(off)); err != nil {
			return nil, fmt.Errorf("seek message index at %d: %w", off, err)
		}
		p := NewParser(r.r)
		op, payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		if op != OpMessageIndex {
			return nil, fmt.Errorf("%w: expected message index at offset %d, found %s", ErrMalformedRecord, off, op)
		}
		idx, err := ParseMessageIndex(payload)
		if err != nil {
			return nil, err
		}
		sortIndexEntries(idx.Records)
		entries[idx.ChannelID] = append(entries[idx.ChannelID], idx.Records...)
	}
	return entries, nil
}

// scanEntries rebuilds message index entries from decompressed chunk
// records.
func scanEntries(records []byte) (map[uint16][]MessageIndexEntry, error) {
	p := NewParser(rawio.NewBytesReader(records))
	entries := map[uint16][]MessageIndexEntry{}
	for p.PeekOp() != OpInvalid {
		recordStart := p.Tell()
		op, payload, err := p.Next()
		if err != nil {
			return nil, err
		}
		if op != OpMessage {
			continue
		}
		m, err := ParseMessage(payload)
		if err != nil {
			return nil, err
		}
		entries[m.ChannelID] = append(entries[m.ChannelID], MessageIndexEntry{
			LogTime: m.LogTime,
			Offset:  uint64(recordStart),
		})
	}
	for _, chEntries := range entries {
		sortIndexEntries(chEntries)
	}
	return entries, nil
}

func orderRefs(refs []msgRef, order Order) {
	switch order {
	case FileOrder:
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].offset < refs[j].offset })
	case ReverseLogTimeOrder:
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].logTime != refs[j].logTime {
				return refs[i].logTime > refs[j].logTime
			}
			return refs[i].offset < refs[j].offset
		})
	default:
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].logTime != refs[j].logTime {
				return refs[i].logTime < refs[j].logTime
			}
			return refs[i].offset < refs[j].offset
		})
	}
}

// cursor yields messages one at a time. head returns the current message
// without consuming it, nil when exhausted; pop consumes it.
type cursor interface {
	head() (*Message, error)
	pop()
}

// entryCursor resolves refs to messages in order. With byTime set, refs
// sharing a log time are resolved together and yielded by sequence then
// channel id, so ties inside one source break correctly.
type entryCursor struct {
	rd     *Reader
	refs   []msgRef
	pos    int
	byTime bool
	run    []*Message
	runPos int
}

func (c *entryCursor) head() (*Message, error) {
	for c.runPos >= len(c.run) {
		if c.pos >= len(c.refs) {
			return nil, nil
		}
		if err := c.fillRun(); err != nil {
			return nil, err
		}
	}
	return c.run[c.runPos], nil
}

func (c *entryCursor) pop() { c.runPos++ }

func (c *entryCursor) fillRun() error {
	c.run = c.run[:0]
	c.runPos = 0
	end := c.pos + 1
	if c.byTime {
		for end < len(c.refs) && c.refs[end].logTime == c.refs[c.pos].logTime {
			end++
		}
	}
	for _, ref := range c.refs[c.pos:end] {
		m, err := c.rd.messageAt(ref)
		if err != nil {
			return err
		}
		c.run = append(c.run, m)
	}
	c.pos = end
	if len(c.run) > 1 {
		sort.SliceStable(c.run, func(i, j int) bool {
			a, b := c.run[i], c.run[j]
			if a.Sequence != b.Sequence {
				return a.Sequence < b.Sequence
			}
			return a.ChannelID < b.ChannelID
		})
	}
	return nil
}

// lazyChunkCursor defers loading a chunk's index until the merge first asks
// for its head, so chunks skipped by the time window never load.
type lazyChunkCursor struct {
	rd    *Reader
	ci    *ChunkIndex
	chans map[uint16]bool
	start uint64
	end   uint64
	order Order
	inner *entryCursor
}

func (c *lazyChunkCursor) head() (*Message, error) {
	if c.inner == nil {
		if err := c.build(); err != nil {
			return nil, err
		}
	}
	return c.inner.head()
}

func (c *lazyChunkCursor) pop() { c.inner.pop() }

func (c *lazyChunkCursor) build() error {
	entries, err := c.rd.chunkEntries(c.ci)
	if err != nil {
		return err
	}
	var refs []msgRef
	for ch, chEntries := range entries {
		if c.chans != nil && !c.chans[ch] {
			continue
		}
		for _, e := range chEntries {
			if e.LogTime < c.start || e.LogTime >= c.end {
				continue
			}
			refs = append(refs, msgRef{ci: c.ci, logTime: e.LogTime, offset: e.Offset})
		}
	}
	orderRefs(refs, c.order)
	c.inner = &entryCursor{rd: c.rd, refs: refs, byTime: c.order != FileOrder}
	return nil
}

// heapItem pairs a resolved message with the cursor that produced it.
type heapItem struct {
	m *Message
	c cursor
}

// cursorHeap orders cursor heads by (log time, sequence, channel id),
// descending log time when reverse is set.
type cursorHeap struct {
	items   []heapItem
	reverse bool
}

func (h *cursorHeap) Len() int { return len(h.items) }

func (h *cursorHeap) Less(i, j int) bool {
	a, b := h.items[i].m, h.items[j].m
	if a.LogTime != b.LogTime {
		if h.reverse {
			return a.LogTime > b.LogTime
		}
		return a.LogTime < b.LogTime
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ChannelID < b.ChannelID
}

func (h *cursorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cursorHeap) Push(x interface{}) {
	h.items = append(h.items, x.(heapItem))
}

func (h *cursorHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func newMergedIterator(cursors []cursor, order Order) (*MessageIterator, error) {
	h := &cursorHeap{reverse: order == ReverseLogTimeOrder}
	for _, c := range cursors {
		m, err := c.head()
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		c.pop()
		h.items = append(h.items, heapItem{m: m, c: c})
	}
	heap.Init(h)
	return &MessageIterator{h: h}, nil
}

// MessageIterator yields messages one per Next call.
//
//	it, err := rd.Messages(mcap.Query{})
//	...
//	for it.Next() {
//		m := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type MessageIterator struct {
	cursors []cursor
	h       *cursorHeap
	cur     *Message
	err     error
	done    bool
}

// Next advances to the next message, returning false at the end or on
// error.
func (it *MessageIterator) Next() bool {
	if it.done {
		return false
	}
	if it.h != nil {
		return it.nextMerged()
	}
	return it.nextSequential()
}

func (it *MessageIterator) nextSequential() bool {
	for len(it.cursors) > 0 {
		m, err := it.cursors[0].head()
		if err != nil {
			it.fail(err)
			return false
		}
		if m == nil {
			it.cursors = it.cursors[1:]
			continue
		}
		it.cursors[0].pop()
		it.cur = m
		return true
	}
	it.done = true
	return false
}

func (it *MessageIterator) nextMerged() bool {
	if it.h.Len() == 0 {
		it.done = true
		return false
	}
	item := heap.Pop(it.h).(heapItem)
	it.cur = item.m
	m, err := item.c.head()
	if err != nil {
		it.fail(err)
		return false
	}
	if m != nil {
		item.c.pop()
		heap.Push(it.h, heapItem{m: m, c: item.c})
	}
	return true
}

func (it *MessageIterator) fail(err error) {
	it.err = err
	it.done = true
}

// Record returns the message Next advanced to.
func (it *MessageIterator) Record() *Message { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *MessageIterator) Err() error { return it.err }

// chunkCache keeps the most recently used decompressed chunks, keyed by
// chunk start offset.
type chunkCache struct {
	max   int
	items map[uint64][]byte
	order []uint64
}

func newChunkCache(max int) *chunkCache {
	return &chunkCache{max: max, items: make(map[uint64][]byte, max)}
}

func (c *chunkCache) get(key uint64) ([]byte, bool) {
	records, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.touch(key)
	return records, true
}

func (c *chunkCache) put(key uint64, records []byte) {
	if _, ok := c.items[key]; ok {
		c.items[key] = records
		c.touch(key)
		return
	}
	if len(c.items) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = records
	c.order = append(c.order, key)
}

func (c *chunkCache) touch(key uint64) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}
