// Package cdr implements the CDR wire encoding used for message payloads:
// a 4-byte encapsulation header followed by primitives aligned to their own
// width, in the byte order the header selects.
//
// Alignment is relative to the start of the payload, not the header. String
// lengths count the trailing NUL. Sequences carry a u32 element count;
// fixed arrays carry elements only.
package cdr

import "errors"

// HeaderSize is the size of the encapsulation header in bytes.
const HeaderSize = 4

var (
	// ErrBadEncapsulation indicates a missing or unsupported encapsulation
	// header.
	ErrBadEncapsulation = errors.New("bad cdr encapsulation header")
)
