package codec

import (
	"fmt"
	"math"

	"github.com/bagworks/gobag/pkg/cdr"
	"github.com/bagworks/gobag/pkg/schema"
)

// coercePrimitive normalizes v to the canonical Go value for kind. Integer
// fields accept their exact Go type or int; float fields additionally
// accept the other float width and int; byte and char accept uint8, int,
// one-byte slices, and one-rune strings.
func coercePrimitive(kind schema.Kind, v any) (any, error) {
	switch kind {
	case schema.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.Byte, schema.Char:
		return coerceOctet(kind, v)
	case schema.Uint8:
		switch x := v.(type) {
		case uint8:
			return x, nil
		case int:
			if x < 0 || x > math.MaxUint8 {
				return nil, rangeError(kind, x)
			}
			return uint8(x), nil
		}
	case schema.Int8:
		switch x := v.(type) {
		case int8:
			return x, nil
		case int:
			if x < math.MinInt8 || x > math.MaxInt8 {
				return nil, rangeError(kind, x)
			}
			return int8(x), nil
		}
	case schema.Int16:
		switch x := v.(type) {
		case int16:
			return x, nil
		case int:
			if x < math.MinInt16 || x > math.MaxInt16 {
				return nil, rangeError(kind, x)
			}
			return int16(x), nil
		}
	case schema.Uint16:
		switch x := v.(type) {
		case uint16:
			return x, nil
		case int:
			if x < 0 || x > math.MaxUint16 {
				return nil, rangeError(kind, x)
			}
			return uint16(x), nil
		}
	case schema.Int32:
		switch x := v.(type) {
		case int32:
			return x, nil
		case int:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil, rangeError(kind, x)
			}
			return int32(x), nil
		}
	case schema.Uint32:
		switch x := v.(type) {
		case uint32:
			return x, nil
		case int:
			if x < 0 || x > math.MaxUint32 {
				return nil, rangeError(kind, x)
			}
			return uint32(x), nil
		}
	case schema.Int64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		}
	case schema.Uint64:
		switch x := v.(type) {
		case uint64:
			return x, nil
		case int:
			if x < 0 {
				return nil, rangeError(kind, x)
			}
			return uint64(x), nil
		}
	case schema.Float32:
		switch x := v.(type) {
		case float32:
			return x, nil
		case float64:
			return float32(x), nil
		case int:
			return float32(x), nil
		}
	case schema.Float64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	}
	return nil, typeError(kind, v)
}

func coerceOctet(kind schema.Kind, v any) (any, error) {
	switch x := v.(type) {
	case uint8:
		return x, nil
	case int:
		if x < 0 || x > math.MaxUint8 {
			return nil, rangeError(kind, x)
		}
		return uint8(x), nil
	case []byte:
		if len(x) != 1 {
			return nil, fmt.Errorf("%w: %s needs exactly one byte, got %d", ErrInvalidFieldValue, kind, len(x))
		}
		return x[0], nil
	case string:
		r := []rune(x)
		if len(r) != 1 || r[0] > 0xFF {
			return nil, fmt.Errorf("%w: %s needs a single one-byte character", ErrInvalidFieldValue, kind)
		}
		return uint8(r[0]), nil
	}
	return nil, typeError(kind, v)
}

func rangeError(kind schema.Kind, v any) error {
	return fmt.Errorf("%w: %v out of range for %s", ErrInvalidFieldValue, v, kind)
}

func typeError(kind schema.Kind, v any) error {
	return fmt.Errorf("%w: cannot encode %T as %s", ErrInvalidFieldValue, v, kind)
}

// coerceString validates a string field value against an optional bound.
func coerceString(v any, maxLength int) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: cannot encode %T as string", ErrInvalidFieldValue, v)
	}
	if maxLength > 0 && len(s) > maxLength {
		return "", fmt.Errorf("%w: string length %d exceeds bound %d", ErrInvalidFieldValue, len(s), maxLength)
	}
	return s, nil
}

// checkContainerLen enforces the exact length of fixed arrays and the
// optional upper bound of sequences.
func checkContainerLen(n int, fixed bool, length, maxLength int) error {
	if fixed && n != length {
		return fmt.Errorf("%w: need exactly %d elements, got %d", ErrInvalidFieldValue, length, n)
	}
	if !fixed && maxLength > 0 && n > maxLength {
		return fmt.Errorf("%w: %d elements exceed bound %d", ErrInvalidFieldValue, n, maxLength)
	}
	return nil
}

// putPrimitive writes a canonical value produced by coercePrimitive.
func putPrimitive(e *cdr.Encoder, kind schema.Kind, v any) {
	switch kind {
	case schema.Bool:
		e.PutBool(v.(bool))
	case schema.Byte, schema.Char, schema.Uint8:
		e.PutUint8(v.(uint8))
	case schema.Int8:
		e.PutInt8(v.(int8))
	case schema.Int16:
		e.PutInt16(v.(int16))
	case schema.Uint16:
		e.PutUint16(v.(uint16))
	case schema.Int32:
		e.PutInt32(v.(int32))
	case schema.Uint32:
		e.PutUint32(v.(uint32))
	case schema.Int64:
		e.PutInt64(v.(int64))
	case schema.Uint64:
		e.PutUint64(v.(uint64))
	case schema.Float32:
		e.PutFloat32(v.(float32))
	case schema.Float64:
		e.PutFloat64(v.(float64))
	}
}

func decodePrimitive(d *cdr.Decoder, kind schema.Kind) (any, error) {
	switch kind {
	case schema.Bool:
		v, err := d.Bool()
		return v, err
	case schema.Byte, schema.Char, schema.Uint8:
		v, err := d.Uint8()
		return v, err
	case schema.Int8:
		v, err := d.Int8()
		return v, err
	case schema.Int16:
		v, err := d.Int16()
		return v, err
	case schema.Uint16:
		v, err := d.Uint16()
		return v, err
	case schema.Int32:
		v, err := d.Int32()
		return v, err
	case schema.Uint32:
		v, err := d.Uint32()
		return v, err
	case schema.Int64:
		v, err := d.Int64()
		return v, err
	case schema.Uint64:
		v, err := d.Uint64()
		return v, err
	case schema.Float32:
		v, err := d.Float32()
		return v, err
	case schema.Float64:
		v, err := d.Float64()
		return v, err
	}
	return nil, fmt.Errorf("%w: primitive kind %d", ErrUnsupportedSchema, kind)
}

// decodePrimitiveRun decodes n elements of a fixed-width primitive into a
// typed slice. Alignment happens only when elements follow, mirroring the
// write path for empty sequences.
func decodePrimitiveRun(d *cdr.Decoder, kind schema.Kind, n int) (any, error) {
	width := kind.Width()
	read := func() ([]byte, error) { return d.AlignedBytes(width, n) }
	switch kind {
	case schema.Bool:
		out := make([]bool, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = b[i] != 0
		}
		return out, nil
	case schema.Byte, schema.Char, schema.Uint8:
		out := make([]uint8, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		copy(out, b)
		return out, nil
	case schema.Int8:
		out := make([]int8, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int8(b[i])
		}
		return out, nil
	case schema.Int16:
		out := make([]int16, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int16(d.Order().Uint16(b[2*i:]))
		}
		return out, nil
	case schema.Uint16:
		out := make([]uint16, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = d.Order().Uint16(b[2*i:])
		}
		return out, nil
	case schema.Int32:
		out := make([]int32, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int32(d.Order().Uint32(b[4*i:]))
		}
		return out, nil
	case schema.Uint32:
		out := make([]uint32, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = d.Order().Uint32(b[4*i:])
		}
		return out, nil
	case schema.Int64:
		out := make([]int64, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int64(d.Order().Uint64(b[8*i:]))
		}
		return out, nil
	case schema.Uint64:
		out := make([]uint64, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = d.Order().Uint64(b[8*i:])
		}
		return out, nil
	case schema.Float32:
		out := make([]float32, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = math.Float32frombits(d.Order().Uint32(b[4*i:]))
		}
		return out, nil
	case schema.Float64:
		out := make([]float64, n)
		if n == 0 {
			return out, nil
		}
		b, err := read()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = math.Float64frombits(d.Order().Uint64(b[8*i:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: primitive kind %d", ErrUnsupportedSchema, kind)
}

// sliceElems views any accepted slice form as []any for element-wise
// validation. It accepts the typed slices Decode produces plus []any.
func sliceElems(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []bool:
		return box(x), true
	case []uint8:
		return box(x), true
	case []int8:
		return box(x), true
	case []int16:
		return box(x), true
	case []uint16:
		return box(x), true
	case []int32:
		return box(x), true
	case []uint32:
		return box(x), true
	case []int64:
		return box(x), true
	case []uint64:
		return box(x), true
	case []float32:
		return box(x), true
	case []float64:
		return box(x), true
	case []int:
		return box(x), true
	case []string:
		return box(x), true
	case []map[string]any:
		return box(x), true
	}
	return nil, false
}

func box[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// constantValue normalizes a schema constant into the decode value model.
func constantValue(c schema.Constant) (any, error) {
	switch t := c.Type.(type) {
	case schema.Primitive:
		v, err := coercePrimitive(t.Kind, c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: constant %s: %v", ErrUnsupportedSchema, c.Name, err)
		}
		return v, nil
	case schema.String:
		if s, ok := c.Value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: constant %s: want string, got %T", ErrUnsupportedSchema, c.Name, c.Value)
	}
	return nil, fmt.Errorf("%w: constant %s must be primitive or string", ErrUnsupportedSchema, c.Name)
}
