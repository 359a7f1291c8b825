//go:build unix

package rawio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapReader is a Reader over a read-only memory mapping of a file.
//
// Thread Safety: like every Reader, an MmapReader owns its position. Open
// one per goroutine; the kernel shares the underlying pages.
type MmapReader struct {
	BytesReader
	mapped []byte
}

// OpenMmap maps path read-only and returns a cursor over the mapping. On
// platforms without mmap support it falls back to positioned file reads.
func OpenMmap(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return &MmapReader{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &MmapReader{
		BytesReader: BytesReader{data: data},
		mapped:      data,
	}, nil
}

// Close unmaps the file.
func (m *MmapReader) Close() error {
	if m.mapped == nil {
		return nil
	}
	if err := unix.Munmap(m.mapped); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	m.mapped = nil
	m.data = nil
	return nil
}
