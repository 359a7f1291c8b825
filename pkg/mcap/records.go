// Package mcap implements the chunked, indexed container format: record
// parsing and encoding, chunk compression, checksum validation, summary
// loading and reconstruction, and the session readers and writers built on
// them.
//
// Every record on the wire is an opcode byte, a little-endian u64 payload
// length, and the payload. Strings inside payloads are u32-length-prefixed
// UTF-8; maps and arrays carry a u32 byte-length prefix.
package mcap

// Magic brackets every file: it opens the data section and closes the
// summary section.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', 0x30, '\r', '\n'}

const (
	// MagicSize is the length of the leading and trailing magic.
	MagicSize = 8
	// RecordHeaderSize covers the opcode byte and the u64 payload length.
	RecordHeaderSize = 9
	// FooterPayloadSize is the fixed footer payload: summary_start,
	// summary_offset_start, summary_crc.
	FooterPayloadSize = 20
	// FooterSize is the complete footer record.
	FooterSize = RecordHeaderSize + FooterPayloadSize
	// DataEndSize is the complete data-end record.
	DataEndSize = RecordHeaderSize + 4
)

// OpCode identifies a record type.
type OpCode uint8

const (
	OpInvalid         OpCode = 0x00
	OpHeader          OpCode = 0x01
	OpFooter          OpCode = 0x02
	OpSchema          OpCode = 0x03
	OpChannel         OpCode = 0x04
	OpMessage         OpCode = 0x05
	OpChunk           OpCode = 0x06
	OpMessageIndex    OpCode = 0x07
	OpChunkIndex      OpCode = 0x08
	OpAttachment      OpCode = 0x09
	OpAttachmentIndex OpCode = 0x0A
	OpStatistics      OpCode = 0x0B
	OpMetadata        OpCode = 0x0C
	OpMetadataIndex   OpCode = 0x0D
	OpSummaryOffset   OpCode = 0x0E
	OpDataEnd         OpCode = 0x0F
)

var opNames = map[OpCode]string{
	OpHeader:          "Header",
	OpFooter:          "Footer",
	OpSchema:          "Schema",
	OpChannel:         "Channel",
	OpMessage:         "Message",
	OpChunk:           "Chunk",
	OpMessageIndex:    "MessageIndex",
	OpChunkIndex:      "ChunkIndex",
	OpAttachment:      "Attachment",
	OpAttachmentIndex: "AttachmentIndex",
	OpStatistics:      "Statistics",
	OpMetadata:        "Metadata",
	OpMetadataIndex:   "MetadataIndex",
	OpSummaryOffset:   "SummaryOffset",
	OpDataEnd:         "DataEnd",
}

// String returns the record type name, or "Unknown" for opcodes outside the
// format.
func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "Unknown"
}

// Header opens the data section.
type Header struct {
	Profile string
	Library string
}

// Footer is the last record of the file and locates the summary section.
// Zero offsets mean the corresponding section is absent.
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

// Schema describes a message layout under a named encoding. Ids start at 1;
// id 0 on a channel means the channel has no schema.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

// Channel binds a topic to a schema and a message encoding.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

// Message carries one serialized message on a channel.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Chunk groups records compressed as a unit. Records holds the payload in
// its on-wire (possibly compressed) form.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      string
	Records          []byte
}

// MessageIndexEntry locates one message inside a chunk's uncompressed
// records by log time and byte offset.
type MessageIndexEntry struct {
	LogTime uint64
	Offset  uint64
}

// MessageIndex lists one channel's messages within the preceding chunk.
type MessageIndex struct {
	ChannelID uint16
	Records   []MessageIndexEntry
}

// ChunkIndex locates a chunk and the message indexes that follow it.
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

// Attachment embeds a named blob in the data section. CRC covers the
// payload from the log time field through the data bytes; 0 means not
// computed.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
	CRC        uint32
}

// AttachmentIndex locates an attachment record in the data section.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

// Statistics summarizes the data section.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// Metadata embeds named string pairs in the data section.
type Metadata struct {
	Name     string
	Metadata map[string]string
}

// MetadataIndex locates a metadata record in the data section.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

// SummaryOffset locates one contiguous group of same-opcode records in the
// summary section.
type SummaryOffset struct {
	GroupOpCode OpCode
	GroupStart  uint64
	GroupLength uint64
}

// DataEnd terminates the data section. A zero CRC means not available.
type DataEnd struct {
	DataSectionCRC uint32
}
