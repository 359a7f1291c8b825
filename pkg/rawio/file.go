package rawio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// FileReader is a Reader over an io.ReaderAt using positioned reads.
//
// Thread Safety: a FileReader owns its position; several FileReaders over
// the same file interleave safely because positioned reads never touch the
// file's seek offset.
type FileReader struct {
	ra     io.ReaderAt
	size   int64
	pos    int64
	closer io.Closer
}

// OpenFile opens path for positioned reads.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	return &FileReader{ra: f, size: info.Size(), closer: f}, nil
}

// NewFileReader wraps an io.ReaderAt of known size. Closing the returned
// reader does not close ra.
func NewFileReader(ra io.ReaderAt, size int64) *FileReader {
	return &FileReader{ra: ra, size: size}
}

// Read returns the next n bytes and advances the position.
func (r *FileReader) Read(n int) ([]byte, error) {
	buf, err := r.readAt(n, r.pos)
	if err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

// Peek returns the next n bytes without advancing the position.
func (r *FileReader) Peek(n int) ([]byte, error) {
	return r.readAt(n, r.pos)
}

func (r *FileReader) readAt(n int, off int64) ([]byte, error) {
	if n < 0 || int64(n) > r.size-off {
		return nil, ErrOutOfBounds
	}
	buf := make([]byte, n)
	m, err := r.ra.ReadAt(buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && m == n) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, off, err)
	}
	return buf, nil
}

// SeekFromStart positions the cursor off bytes from the start.
func (r *FileReader) SeekFromStart(off int64) (int64, error) {
	if off < 0 || off > r.size {
		return r.pos, ErrOutOfBounds
	}
	r.pos = off
	return r.pos, nil
}

// SeekFromCurrent moves the cursor relative to its current position.
func (r *FileReader) SeekFromCurrent(off int64) (int64, error) {
	return r.SeekFromStart(r.pos + off)
}

// SeekFromEnd positions the cursor off bytes before the end.
func (r *FileReader) SeekFromEnd(off int64) (int64, error) {
	return r.SeekFromStart(r.size - off)
}

// Tell returns the current position.
func (r *FileReader) Tell() int64 { return r.pos }

// Size returns the file size recorded at open time.
func (r *FileReader) Size() int64 { return r.size }

// Close closes the underlying file if this reader opened it.
func (r *FileReader) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	r.closer = nil
	return nil
}

// FileWriter is a buffered Writer over a file.
type FileWriter struct {
	file *os.File
	w    *bufio.Writer
	off  int64
}

// CreateFile creates or truncates path for writing.
func CreateFile(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return &FileWriter{file: f, w: bufio.NewWriter(f)}, nil
}

// NewFileWriter wraps an already open file whose write position is off.
// The caller remains responsible for having positioned the file there.
func NewFileWriter(f *os.File, off int64) *FileWriter {
	return &FileWriter{file: f, w: bufio.NewWriter(f), off: off}
}

// Write appends p, tracking the total number of bytes written.
func (w *FileWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.off += int64(n)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Tell returns the write position, counting from where the writer started.
func (w *FileWriter) Tell() int64 { return w.off }

// Flush pushes buffered bytes to the file.
func (w *FileWriter) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes, syncs, and closes the file.
func (w *FileWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
