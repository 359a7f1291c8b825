package bag

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/codec"
	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/rawio"
	"github.com/bagworks/gobag/pkg/schema"
)

// Options configure a read session.
type Options struct {
	// Registry resolves schema names for message decoding. Optional:
	// without it only raw record access works and decoding operations
	// return ErrNoRegistry.
	Registry schema.Registry
	// CheckCRC validates every stored checksum on open and while reading
	// chunks.
	CheckCRC bool
	// Reconstruction controls what happens when the summary section is
	// missing or damaged.
	Reconstruction mcap.Reconstruction
	// Logger receives diagnostics. The zero value is silent.
	Logger zerolog.Logger
}

// Reader reads one container file by topic.
//
// Thread Safety: a Reader and its iterators belong to one goroutine. Open
// separate Readers for concurrent access to the same file.
type Reader struct {
	mc       *mcap.Reader
	compiler *codec.Compiler
	// topics maps each topic to the ids of the channels carrying it,
	// ascending.
	topics map[string][]uint16
	codecs map[uint16]*codec.Codec
}

// Open opens the container file at path.
func Open(path string, opts Options) (*Reader, error) {
	mc, err := mcap.OpenFile(path, containerOptions(opts))
	if err != nil {
		return nil, err
	}
	return fromContainer(mc, opts), nil
}

// NewReader opens a session over an already open rawio.Reader.
func NewReader(r rawio.Reader, opts Options) (*Reader, error) {
	mc, err := mcap.NewReader(r, containerOptions(opts))
	if err != nil {
		return nil, err
	}
	return fromContainer(mc, opts), nil
}

func containerOptions(opts Options) mcap.ReaderOptions {
	return mcap.ReaderOptions{
		CheckCRC:       opts.CheckCRC,
		Reconstruction: opts.Reconstruction,
		Logger:         opts.Logger,
	}
}

func fromContainer(mc *mcap.Reader, opts Options) *Reader {
	r := &Reader{
		mc:     mc,
		topics: make(map[string][]uint16),
		codecs: make(map[uint16]*codec.Codec),
	}
	if opts.Registry != nil {
		r.compiler = codec.NewCompiler(opts.Registry)
	}
	for id, c := range mc.Channels() {
		r.topics[c.Topic] = append(r.topics[c.Topic], id)
	}
	for _, ids := range r.topics {
		sortedIDs(ids)
	}
	return r
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.mc.Close() }

// Container exposes the record-level session for callers that need to go
// below the topic surface.
func (r *Reader) Container() *mcap.Reader { return r.mc }

// Topics returns the topic names in the file, sorted.
func (r *Reader) Topics() []string {
	names := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

// SchemaName returns the schema name carried by the topic's channel, or ""
// for a schemaless topic.
func (r *Reader) SchemaName(topic string) (string, error) {
	ids, ok := r.topics[topic]
	if !ok {
		return "", fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, topic)
	}
	ch := r.mc.Channels()[ids[0]]
	if ch.SchemaID == 0 {
		return "", nil
	}
	s, ok := r.mc.Schemas()[ch.SchemaID]
	if !ok {
		return "", fmt.Errorf("%w: id %d", mcap.ErrUnknownSchema, ch.SchemaID)
	}
	return s.Name, nil
}

// StartTime returns the log time of the earliest message, 0 when empty.
func (r *Reader) StartTime() uint64 {
	start, _ := r.mc.TimeRange()
	return start
}

// EndTime returns the log time of the latest message, 0 when empty.
func (r *Reader) EndTime() uint64 {
	_, end := r.mc.TimeRange()
	return end
}

// MessageCount returns the number of messages on the topic.
func (r *Reader) MessageCount(topic string) (uint64, error) {
	ids, ok := r.topics[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, topic)
	}
	var total uint64
	for _, id := range ids {
		n, err := r.mc.MessageCount(id)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Attachments returns attachments by name; "" returns all of them.
func (r *Reader) Attachments(name string) ([]*mcap.Attachment, error) {
	return r.mc.Attachments(name)
}

// Metadata returns metadata records by name; "" returns all of them.
func (r *Reader) Metadata(name string) ([]*mcap.Metadata, error) {
	return r.mc.Metadata(name)
}

// expandTopics resolves topic names and globs to channel ids. A name
// without metacharacters must exist; a glob may match nothing. Nil means
// every channel.
func (r *Reader) expandTopics(patterns []string) ([]uint16, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	seen := make(map[uint16]bool)
	ids := make([]uint16, 0, len(patterns))
	for _, pattern := range patterns {
		names := matchTopics(pattern, r.topics)
		if len(names) == 0 && !isGlob(pattern) {
			return nil, fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, pattern)
		}
		for _, name := range names {
			for _, id := range r.topics[name] {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return sortedIDs(ids), nil
}

// RawMessages iterates records matching the query without decoding them.
// Works without a registry; q.Filter is not applied.
func (r *Reader) RawMessages(q MessageQuery) (*mcap.MessageIterator, error) {
	channels, err := r.expandTopics(q.Topics)
	if err != nil {
		return nil, err
	}
	return r.mc.Messages(mcap.Query{
		Channels: channels,
		Start:    q.Start,
		End:      q.End,
		Order:    q.Order,
	})
}

// Messages iterates decoded messages matching the query.
//
//	it, err := r.Messages(bag.MessageQuery{Topics: []string{"/gps/*"}})
//	if err != nil { ... }
//	for it.Next() {
//		m := it.Record()
//		// m.Value["latitude"], ...
//	}
//	if err := it.Err(); err != nil { ... }
func (r *Reader) Messages(q MessageQuery) (*MessageIterator, error) {
	if r.compiler == nil {
		return nil, ErrNoRegistry
	}
	inner, err := r.RawMessages(q)
	if err != nil {
		return nil, err
	}
	return &MessageIterator{r: r, inner: inner, filter: q.Filter, limit: -1}, nil
}

// MessageAtIndex returns the i-th message of the topic counting from 0 in
// file order.
func (r *Reader) MessageAtIndex(topic string, i int) (*Message, error) {
	if r.compiler == nil {
		return nil, ErrNoRegistry
	}
	ids, ok := r.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, topic)
	}
	if len(ids) == 1 {
		raw, err := r.mc.MessageAtIndex(ids[0], i)
		if err != nil {
			return nil, err
		}
		return r.decode(raw)
	}
	it, err := r.MessagesByIndex(topic, i, i+1)
	if err != nil {
		return nil, err
	}
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: message %d on topic %s", mcap.ErrIndexOutOfRange, i, topic)
	}
	return it.Record(), nil
}

// MessagesByIndex iterates the topic's messages with file order ordinals in
// [start, end).
func (r *Reader) MessagesByIndex(topic string, start, end int) (*MessageIterator, error) {
	if r.compiler == nil {
		return nil, ErrNoRegistry
	}
	ids, ok := r.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, topic)
	}
	if len(ids) == 1 {
		inner, err := r.mc.MessagesByIndex(ids[0], start, end)
		if err != nil {
			return nil, err
		}
		return &MessageIterator{r: r, inner: inner, limit: -1}, nil
	}
	// A topic spread over several channels walks the merged file-order
	// stream instead of one channel's index.
	count, err := r.MessageCount(topic)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || uint64(end) > count {
		return nil, fmt.Errorf("%w: range [%d, %d) of %d on topic %s", mcap.ErrIndexOutOfRange, start, end, count, topic)
	}
	inner, err := r.mc.Messages(mcap.Query{Channels: ids, Order: mcap.FileOrder})
	if err != nil {
		return nil, err
	}
	return &MessageIterator{r: r, inner: inner, skip: start, limit: end - start}, nil
}

func (r *Reader) decode(raw *mcap.Message) (*Message, error) {
	ch, ok := r.mc.Channels()[raw.ChannelID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", mcap.ErrUnknownChannel, raw.ChannelID)
	}
	cd, err := r.codecFor(raw.ChannelID, ch)
	if err != nil {
		return nil, err
	}
	value, err := cd.Decode(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("message on %s at time %d: %w", ch.Topic, raw.LogTime, err)
	}
	return &Message{
		Topic:       ch.Topic,
		ChannelID:   raw.ChannelID,
		Sequence:    raw.Sequence,
		LogTime:     raw.LogTime,
		PublishTime: raw.PublishTime,
		Value:       value,
	}, nil
}

func (r *Reader) codecFor(id uint16, ch *mcap.Channel) (*codec.Codec, error) {
	if cd, ok := r.codecs[id]; ok {
		return cd, nil
	}
	if ch.SchemaID == 0 {
		return nil, fmt.Errorf("%w: channel %d (%s) carries no schema", mcap.ErrUnknownSchema, id, ch.Topic)
	}
	s, ok := r.mc.Schemas()[ch.SchemaID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", mcap.ErrUnknownSchema, ch.SchemaID)
	}
	cd, err := r.compiler.Compile(s.Name)
	if err != nil {
		return nil, fmt.Errorf("topic %s: %w", ch.Topic, err)
	}
	r.codecs[id] = cd
	return cd, nil
}

// MessageIterator yields decoded messages.
//
// Thread Safety: an iterator belongs to one goroutine.
type MessageIterator struct {
	r      *Reader
	inner  *mcap.MessageIterator
	filter func(*mcap.Message) bool
	skip   int
	limit  int // remaining yields, -1 for unbounded
	cur    *Message
	err    error
	done   bool
}

// Next advances to the next message. It returns false at the end of the
// sequence or on the first error; check Err afterwards.
func (it *MessageIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.limit == 0 {
		it.done = true
		return false
	}
	for it.inner.Next() {
		raw := it.inner.Record()
		if it.filter != nil && !it.filter(raw) {
			continue
		}
		if it.skip > 0 {
			it.skip--
			continue
		}
		m, err := it.r.decode(raw)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.cur = m
		if it.limit > 0 {
			it.limit--
		}
		return true
	}
	it.err = it.inner.Err()
	it.done = true
	return false
}

// Record returns the message produced by the last successful Next.
func (it *MessageIterator) Record() *Message { return it.cur }

// Err returns the first error the iteration hit, if any.
func (it *MessageIterator) Err() error { return it.err }
