// Package rawio provides positioned byte cursors over files and in-memory
// buffers, with bounds-checked reads, CRC-32 accumulating wrappers, and a
// memory-mapped variant on platforms that support it.
package rawio

import "io"

// Reader is a positioned cursor over a finite byte source.
//
// Thread Safety: a Reader owns its position and is not safe for concurrent
// use. Independent Readers over the same underlying file do not share
// position and may be used from different goroutines.
type Reader interface {
	// Read returns the next n bytes and advances the position. The returned
	// slice may alias the reader's backing storage and is only valid until
	// the next call; callers that retain it must copy.
	Read(n int) ([]byte, error)

	// Peek returns the next n bytes without advancing the position.
	Peek(n int) ([]byte, error)

	// SeekFromStart positions the cursor off bytes from the start.
	SeekFromStart(off int64) (int64, error)

	// SeekFromCurrent moves the cursor relative to its current position.
	SeekFromCurrent(off int64) (int64, error)

	// SeekFromEnd positions the cursor off bytes before the end.
	SeekFromEnd(off int64) (int64, error)

	// Tell returns the current position.
	Tell() int64

	// Size returns the total size of the source.
	Size() int64

	// Close releases the underlying resource, if any.
	Close() error
}

// Writer is an append-only byte sink that tracks how much it has written.
type Writer interface {
	io.Writer

	// Tell returns the number of bytes written so far.
	Tell() int64

	// Close flushes buffered bytes and releases the sink.
	Close() error
}
