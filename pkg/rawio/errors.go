package rawio

import "errors"

var (
	// ErrOutOfBounds indicates a read or seek outside the source's bounds.
	ErrOutOfBounds = errors.New("out of bounds")
)
