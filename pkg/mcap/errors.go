package mcap

import "errors"

var (
	// ErrBadMagic indicates the file does not start (or end) with the
	// container magic.
	ErrBadMagic = errors.New("bad magic")

	// ErrMalformedRecord indicates a record payload that contradicts its own
	// declared lengths.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrTruncated indicates the file ends inside a record or before the
	// mandatory trailing records.
	ErrTruncated = errors.New("truncated file")

	// ErrChecksumMismatch indicates a stored CRC that does not match the
	// recomputed value.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrLengthMismatch indicates decompressed chunk data whose size differs
	// from the declared uncompressed size.
	ErrLengthMismatch = errors.New("uncompressed length mismatch")

	// ErrNoSummary indicates a file without a summary section when
	// reconstruction was disallowed.
	ErrNoSummary = errors.New("no summary section")

	// ErrNoChunkIndex indicates an operation that needs chunk indexes on a
	// file that has none.
	ErrNoChunkIndex = errors.New("no chunk index")

	// ErrNoMessageIndex indicates a chunk without message index records.
	ErrNoMessageIndex = errors.New("no message index")

	// ErrUnknownCompression indicates a chunk compression identifier with no
	// registered provider.
	ErrUnknownCompression = errors.New("unknown compression")

	// ErrUnknownTopic indicates a topic that has no channel in the file.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnknownChannel indicates a message on a channel id that was never
	// registered.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownSchema indicates a channel whose schema id has no schema
	// record.
	ErrUnknownSchema = errors.New("unknown schema")

	// ErrIndexOutOfRange indicates an ordinal message access outside
	// [0, count).
	ErrIndexOutOfRange = errors.New("message index out of range")

	// ErrWriterFailed indicates a writer poisoned by an earlier write error;
	// no further records are accepted and no footer will be emitted.
	ErrWriterFailed = errors.New("writer failed")

	// ErrClosed indicates an operation on a closed session.
	ErrClosed = errors.New("session closed")
)
