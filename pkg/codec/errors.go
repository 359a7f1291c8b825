package codec

import "errors"

var (
	// ErrUnsupportedSchema indicates a schema the codec cannot compile:
	// unknown or recursive references, wide strings, nested containers, or
	// invalid constants.
	ErrUnsupportedSchema = errors.New("unsupported schema")
	// ErrInvalidFieldValue indicates a value that does not fit the field it
	// is being encoded into.
	ErrInvalidFieldValue = errors.New("invalid field value")
)
