//go:build !unix

package rawio

// OpenMmap falls back to positioned file reads on platforms without a
// usable mmap.
func OpenMmap(path string) (Reader, error) {
	return OpenFile(path)
}
