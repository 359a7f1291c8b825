package bag

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/codec"
	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/schema"
)

// DefaultProfile marks files produced through the topic surface.
const DefaultProfile = "ros2"

// Encodings recorded for schemas and messages written by this package.
const (
	schemaEncoding  = "ros2msg"
	messageEncoding = "cdr"
)

// WriterOptions configure a write session.
type WriterOptions struct {
	// ChunkSize is the uncompressed chunk threshold; 0 or negative
	// disables chunking.
	ChunkSize int64
	// Compression names the chunk compression ("" stores chunks
	// verbatim).
	Compression string
	// Registry resolves schema names for AddTopic and value encoding.
	Registry schema.Registry
	// Profile is the header profile; empty means DefaultProfile.
	Profile string
	// Logger receives diagnostics. The zero value is silent.
	Logger zerolog.Logger
}

// DefaultWriterOptions returns the options Create uses for zstd-compressed
// chunked output.
func DefaultWriterOptions(reg schema.Registry) WriterOptions {
	return WriterOptions{
		ChunkSize:   mcap.DefaultChunkSize,
		Compression: mcap.CompressionZstd,
		Registry:    reg,
		Profile:     DefaultProfile,
	}
}

type topicState struct {
	channelID  uint16
	schemaName string
	codec      *codec.Codec
}

// Writer writes messages by topic, encoding field values through the
// registry's schemas. Sequence numbers count from 0 per channel and
// continue across append sessions.
//
// Thread Safety: a Writer belongs to one goroutine.
type Writer struct {
	mc       *mcap.Writer
	reg      schema.Registry
	compiler *codec.Compiler
	topics   map[string]*topicState
}

// Create opens a fresh container file at path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	mc, err := mcap.CreateFile(path, writerOptions(opts))
	if err != nil {
		return nil, err
	}
	return newWriter(mc, opts), nil
}

// OpenAppend resumes writing to an existing file. Topics already in the
// file keep their channel ids and sequence counters.
func OpenAppend(path string, opts WriterOptions) (*Writer, error) {
	mc, err := mcap.OpenAppend(path, writerOptions(opts))
	if err != nil {
		return nil, err
	}
	w := newWriter(mc, opts)
	w.adoptTopics()
	return w, nil
}

func newWriter(mc *mcap.Writer, opts WriterOptions) *Writer {
	w := &Writer{mc: mc, reg: opts.Registry, topics: make(map[string]*topicState)}
	if opts.Registry != nil {
		w.compiler = codec.NewCompiler(opts.Registry)
	}
	return w
}

func writerOptions(opts WriterOptions) mcap.WriterOptions {
	profile := opts.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	return mcap.WriterOptions{
		ChunkSize:   opts.ChunkSize,
		Compression: opts.Compression,
		Profile:     profile,
		Logger:      opts.Logger,
	}
}

// adoptTopics rebuilds the topic table from the channels already in the
// file. A topic carried by several channels binds to the lowest id.
func (w *Writer) adoptTopics() {
	for id, c := range w.mc.Channels() {
		if st, ok := w.topics[c.Topic]; ok && st.channelID <= id {
			continue
		}
		var name string
		if c.SchemaID != 0 {
			if s, ok := w.mc.Schemas()[c.SchemaID]; ok {
				name = s.Name
			}
		}
		w.topics[c.Topic] = &topicState{channelID: id, schemaName: name}
	}
}

// Topics returns the topics writable in this session, sorted.
func (w *Writer) Topics() []string {
	names := make([]string, 0, len(w.topics))
	for topic := range w.topics {
		names = append(names, topic)
	}
	sort.Strings(names)
	return names
}

// AddTopic binds a topic to a registered schema, writing the schema and
// channel records. Adding an already bound topic with the same schema
// returns the existing channel id; a different schema is an error.
func (w *Writer) AddTopic(topic, schemaName string) (uint16, error) {
	if st, ok := w.topics[topic]; ok {
		if st.schemaName != schemaName {
			return 0, fmt.Errorf("topic %q already carries schema %q", topic, st.schemaName)
		}
		return st.channelID, nil
	}
	if w.compiler == nil {
		return 0, ErrNoRegistry
	}
	s, ok := w.reg.Lookup(schemaName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", schema.ErrUnknownSchema, schemaName)
	}
	// Compile before any record goes out so an unsupported schema never
	// leaves a half-registered topic in the file.
	cd, err := w.compiler.Compile(schemaName)
	if err != nil {
		return 0, err
	}
	data, err := schema.Render(s, w.reg)
	if err != nil {
		return 0, err
	}
	schemaID, err := w.mc.AddSchema(schemaName, schemaEncoding, data)
	if err != nil {
		return 0, err
	}
	channelID, err := w.mc.AddChannel(schemaID, topic, messageEncoding, nil)
	if err != nil {
		return 0, err
	}
	w.topics[topic] = &topicState{channelID: channelID, schemaName: schemaName, codec: cd}
	return channelID, nil
}

// WriteMessage encodes value against the topic's schema and appends it
// with the next sequence number. Publish time is taken from logTime.
func (w *Writer) WriteMessage(topic string, logTime uint64, value map[string]any) error {
	return w.WriteMessageAt(topic, logTime, logTime, value)
}

// WriteMessageAt is WriteMessage with an explicit publish time.
func (w *Writer) WriteMessageAt(topic string, logTime, publishTime uint64, value map[string]any) error {
	st, ok := w.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %q", mcap.ErrUnknownTopic, topic)
	}
	if st.codec == nil {
		cd, err := w.compileAdopted(st)
		if err != nil {
			return err
		}
		st.codec = cd
	}
	data, err := st.codec.Encode(value)
	if err != nil {
		return err
	}
	return w.mc.WriteMessage(&mcap.Message{
		ChannelID:   st.channelID,
		Sequence:    w.mc.NextSequence(st.channelID),
		LogTime:     logTime,
		PublishTime: publishTime,
		Data:        data,
	})
}

// compileAdopted builds the codec for a topic inherited from an existing
// file on its first write.
func (w *Writer) compileAdopted(st *topicState) (*codec.Codec, error) {
	if w.compiler == nil {
		return nil, ErrNoRegistry
	}
	if st.schemaName == "" {
		return nil, fmt.Errorf("%w: channel %d carries no schema", mcap.ErrUnknownSchema, st.channelID)
	}
	return w.compiler.Compile(st.schemaName)
}

// FlushChunk closes the open chunk early. A no-op when the chunk is empty
// or chunking is disabled.
func (w *Writer) FlushChunk() error { return w.mc.FlushChunk() }

// WriteAttachment appends an attachment record to the data section.
func (w *Writer) WriteAttachment(a *mcap.Attachment) error {
	return w.mc.WriteAttachment(a)
}

// WriteMetadata appends a metadata record to the data section.
func (w *Writer) WriteMetadata(m *mcap.Metadata) error {
	return w.mc.WriteMetadata(m)
}

// Close flushes the open chunk and writes the summary section and footer.
func (w *Writer) Close() error { return w.mc.Close() }
