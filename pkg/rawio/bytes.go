package rawio

// BytesReader is a Reader over an in-memory byte slice. Read and Peek
// return subslices of the backing array without copying.
type BytesReader struct {
	data []byte
	pos  int64
}

// NewBytesReader returns a reader positioned at the start of data.
func NewBytesReader(data []byte) *BytesReader {
	return &BytesReader{data: data}
}

// Read returns the next n bytes and advances the position.
func (r *BytesReader) Read(n int) ([]byte, error) {
	if n < 0 || int64(n) > int64(len(r.data))-r.pos {
		return nil, ErrOutOfBounds
	}
	b := r.data[r.pos : r.pos+int64(n)]
	r.pos += int64(n)
	return b, nil
}

// Peek returns the next n bytes without advancing the position.
func (r *BytesReader) Peek(n int) ([]byte, error) {
	if n < 0 || int64(n) > int64(len(r.data))-r.pos {
		return nil, ErrOutOfBounds
	}
	return r.data[r.pos : r.pos+int64(n)], nil
}

// Align advances the position to the next multiple of n. Alignment never
// fails; a read past the end still fails its own bounds check.
func (r *BytesReader) Align(n int64) {
	if n <= 1 {
		return
	}
	if rem := r.pos % n; rem != 0 {
		r.pos += n - rem
	}
}

// SeekFromStart positions the cursor off bytes from the start.
func (r *BytesReader) SeekFromStart(off int64) (int64, error) {
	if off < 0 || off > int64(len(r.data)) {
		return r.pos, ErrOutOfBounds
	}
	r.pos = off
	return r.pos, nil
}

// SeekFromCurrent moves the cursor relative to its current position.
func (r *BytesReader) SeekFromCurrent(off int64) (int64, error) {
	return r.SeekFromStart(r.pos + off)
}

// SeekFromEnd positions the cursor off bytes before the end.
func (r *BytesReader) SeekFromEnd(off int64) (int64, error) {
	return r.SeekFromStart(int64(len(r.data)) - off)
}

// Tell returns the current position.
func (r *BytesReader) Tell() int64 { return r.pos }

// Size returns the length of the backing slice.
func (r *BytesReader) Size() int64 { return int64(len(r.data)) }

// Close is a no-op for in-memory readers.
func (r *BytesReader) Close() error { return nil }

// BytesWriter is a growable in-memory Writer.
type BytesWriter struct {
	buf []byte
}

// NewBytesWriter returns an empty writer.
func NewBytesWriter() *BytesWriter {
	return &BytesWriter{}
}

// Write appends p to the buffer.
func (w *BytesWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Align zero-pads the buffer to the next multiple of n.
func (w *BytesWriter) Align(n int64) {
	if n <= 1 {
		return
	}
	rem := int64(len(w.buf)) % n
	if rem == 0 {
		return
	}
	for pad := n - rem; pad > 0; pad-- {
		w.buf = append(w.buf, 0)
	}
}

// Bytes returns the accumulated buffer. The slice is valid until the next
// Write or Reset.
func (w *BytesWriter) Bytes() []byte { return w.buf }

// Len returns the number of bytes accumulated.
func (w *BytesWriter) Len() int { return len(w.buf) }

// Tell returns the number of bytes accumulated.
func (w *BytesWriter) Tell() int64 { return int64(len(w.buf)) }

// Reset truncates the buffer, retaining capacity.
func (w *BytesWriter) Reset() { w.buf = w.buf[:0] }

// Close is a no-op for in-memory writers.
func (w *BytesWriter) Close() error { return nil }
