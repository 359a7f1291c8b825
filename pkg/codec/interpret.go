package codec

import (
	"fmt"

	"github.com/bagworks/gobag/pkg/cdr"
	"github.com/bagworks/gobag/pkg/schema"
)

// Interpret builds a codec that walks the schema structures on every call
// instead of running a compiled field program. It resolves and validates
// exactly like Compile and produces byte-identical output; the compiled
// path is checked against it.
func (c *Compiler) Interpret(name string) (*Codec, error) {
	root, deps, err := resolve(c.reg, name)
	if err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	w := &walker{deps: deps}
	return &Codec{
		name: name,
		decode: func(d *cdr.Decoder) (map[string]any, error) {
			return w.decodeSchema(d, root)
		},
		encode: func(e *cdr.Encoder, value map[string]any) error {
			canon, err := w.normalizeSchema(root, value)
			if err != nil {
				return err
			}
			w.emitSchema(e, root, canon)
			return nil
		},
	}, nil
}

// walker evaluates schemas directly. resolve has already vetted every
// reference and type, so lookups into deps cannot miss.
type walker struct {
	deps map[string]*schema.Schema
}

func (w *walker) decodeSchema(d *cdr.Decoder, s *schema.Schema) (map[string]any, error) {
	out := make(map[string]any, len(s.Entries))
	for _, entry := range s.Entries {
		switch x := entry.(type) {
		case schema.Constant:
			v, err := constantValue(x)
			if err != nil {
				return nil, err
			}
			out[x.Name] = v
		case schema.Field:
			v, err := w.decodeType(d, x.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", x.Name, err)
			}
			out[x.Name] = v
		}
	}
	return out, nil
}

func (w *walker) decodeType(d *cdr.Decoder, t schema.Type) (any, error) {
	switch x := t.(type) {
	case schema.Primitive:
		return decodePrimitive(d, x.Kind)
	case schema.String:
		v, err := d.String()
		return v, err
	case schema.Array:
		return w.decodeElems(d, x.Elem, x.Length)
	case schema.Sequence:
		n, err := d.SequenceLen()
		if err != nil {
			return nil, err
		}
		return w.decodeElems(d, x.Elem, n)
	case schema.Named:
		return w.decodeSchema(d, w.deps[x.Name])
	}
	return nil, fmt.Errorf("%w: unknown type %T", ErrUnsupportedSchema, t)
}

func (w *walker) decodeElems(d *cdr.Decoder, elem schema.Type, n int) (any, error) {
	switch x := elem.(type) {
	case schema.Primitive:
		return decodePrimitiveRun(d, x.Kind, n)
	case schema.String:
		out := make([]string, n)
		for i := range out {
			v, err := d.String()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case schema.Named:
		out := make([]map[string]any, n)
		for i := range out {
			v, err := w.decodeSchema(d, w.deps[x.Name])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: containers cannot nest directly", ErrUnsupportedSchema)
}

func (w *walker) normalizeSchema(s *schema.Schema, value map[string]any) ([]any, error) {
	fields := s.Fields()
	canon := make([]any, len(fields))
	for i, f := range fields {
		v, ok := value[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %s", ErrInvalidFieldValue, f.Name)
		}
		c, err := w.normalizeType(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		canon[i] = c
	}
	return canon, nil
}

func (w *walker) normalizeType(t schema.Type, v any) (any, error) {
	switch x := t.(type) {
	case schema.Primitive:
		return coercePrimitive(x.Kind, v)
	case schema.String:
		s, err := coerceString(v, x.MaxLength)
		if err != nil {
			return nil, err
		}
		return s, nil
	case schema.Array:
		return w.normalizeElems(x.Elem, v, true, x.Length, 0)
	case schema.Sequence:
		return w.normalizeElems(x.Elem, v, false, 0, x.MaxLength)
	case schema.Named:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrInvalidFieldValue, v, x.Name)
		}
		c, err := w.normalizeSchema(w.deps[x.Name], m)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown type %T", ErrUnsupportedSchema, t)
}

func (w *walker) normalizeElems(elem schema.Type, v any, fixed bool, length, maxLength int) (any, error) {
	elems, ok := sliceElems(v)
	if !ok {
		return nil, fmt.Errorf("%w: cannot encode %T as a container", ErrInvalidFieldValue, v)
	}
	if err := checkContainerLen(len(elems), fixed, length, maxLength); err != nil {
		return nil, err
	}
	canon := make([]any, len(elems))
	for i, el := range elems {
		c, err := w.normalizeType(elem, el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		canon[i] = c
	}
	return canon, nil
}

func (w *walker) emitSchema(e *cdr.Encoder, s *schema.Schema, canon []any) {
	for i, f := range s.Fields() {
		w.emitType(e, f.Type, canon[i])
	}
}

func (w *walker) emitType(e *cdr.Encoder, t schema.Type, v any) {
	switch x := t.(type) {
	case schema.Primitive:
		putPrimitive(e, x.Kind, v)
	case schema.String:
		e.PutString(v.(string))
	case schema.Array:
		for _, el := range v.([]any) {
			w.emitType(e, x.Elem, el)
		}
	case schema.Sequence:
		elems := v.([]any)
		e.PutSequenceLen(len(elems))
		for _, el := range elems {
			w.emitType(e, x.Elem, el)
		}
	case schema.Named:
		w.emitSchema(e, w.deps[x.Name], v.([]any))
	}
}
