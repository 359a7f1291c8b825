package codec

import (
	"fmt"

	"github.com/bagworks/gobag/pkg/cdr"
	"github.com/bagworks/gobag/pkg/schema"
)

// typeCodec is the compiled form of one wire type: a decoder, a normalizer
// that validates a caller value into canonical form, and an emitter that
// writes canonical form and cannot fail.
type typeCodec struct {
	dec  func(*cdr.Decoder) (any, error)
	norm func(any) (any, error)
	emit func(*cdr.Encoder, any)
}

type fieldCodec struct {
	name string
	typeCodec
}

type constEntry struct {
	name  string
	value any
}

// program is the compiled form of one schema: its fields in declaration
// order plus the constants materialized on decode.
type program struct {
	name   string
	fields []fieldCodec
	consts []constEntry
}

func (p *program) decode(d *cdr.Decoder) (map[string]any, error) {
	out := make(map[string]any, len(p.fields)+len(p.consts))
	for _, c := range p.consts {
		out[c.name] = c.value
	}
	for i := range p.fields {
		f := &p.fields[i]
		v, err := f.dec(d)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		out[f.name] = v
	}
	return out, nil
}

// normalize validates every field of value and returns the canonical forms
// in field order. Emission only starts after the whole message passes.
func (p *program) normalize(value map[string]any) ([]any, error) {
	canon := make([]any, len(p.fields))
	for i := range p.fields {
		f := &p.fields[i]
		v, ok := value[f.name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %s", ErrInvalidFieldValue, f.name)
		}
		c, err := f.norm(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		canon[i] = c
	}
	return canon, nil
}

func (p *program) emit(e *cdr.Encoder, canon []any) {
	for i := range p.fields {
		p.fields[i].typeCodec.emit(e, canon[i])
	}
}

// buildProgram compiles one resolved schema, reusing programs already built
// for schemas that appear more than once in the dependency graph.
func buildProgram(s *schema.Schema, deps map[string]*schema.Schema, memo map[string]*program) (*program, error) {
	if p, ok := memo[s.Name]; ok {
		return p, nil
	}
	p := &program{name: s.Name}
	for _, entry := range s.Entries {
		switch x := entry.(type) {
		case schema.Constant:
			v, err := constantValue(x)
			if err != nil {
				return nil, err
			}
			p.consts = append(p.consts, constEntry{name: x.Name, value: v})
		case schema.Field:
			tc, err := buildType(x.Type, deps, memo)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", x.Name, err)
			}
			p.fields = append(p.fields, fieldCodec{name: x.Name, typeCodec: tc})
		}
	}
	memo[s.Name] = p
	return p, nil
}

func buildType(t schema.Type, deps map[string]*schema.Schema, memo map[string]*program) (typeCodec, error) {
	switch x := t.(type) {
	case schema.Primitive:
		return primitiveCodec(x.Kind), nil
	case schema.String:
		return stringCodec(x.MaxLength), nil
	case schema.Array:
		ec, err := buildType(x.Elem, deps, memo)
		if err != nil {
			return typeCodec{}, err
		}
		return containerCodec(x.Elem, ec, x.Length, 0, true), nil
	case schema.Sequence:
		ec, err := buildType(x.Elem, deps, memo)
		if err != nil {
			return typeCodec{}, err
		}
		return containerCodec(x.Elem, ec, 0, x.MaxLength, false), nil
	case schema.Named:
		sub, err := buildProgram(deps[x.Name], deps, memo)
		if err != nil {
			return typeCodec{}, err
		}
		return namedCodec(sub), nil
	}
	return typeCodec{}, fmt.Errorf("%w: unknown type %T", ErrUnsupportedSchema, t)
}

func primitiveCodec(kind schema.Kind) typeCodec {
	return typeCodec{
		dec:  func(d *cdr.Decoder) (any, error) { return decodePrimitive(d, kind) },
		norm: func(v any) (any, error) { return coercePrimitive(kind, v) },
		emit: func(e *cdr.Encoder, v any) { putPrimitive(e, kind, v) },
	}
}

func stringCodec(maxLength int) typeCodec {
	return typeCodec{
		dec: func(d *cdr.Decoder) (any, error) {
			v, err := d.String()
			return v, err
		},
		norm: func(v any) (any, error) {
			s, err := coerceString(v, maxLength)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		emit: func(e *cdr.Encoder, v any) { e.PutString(v.(string)) },
	}
}

func namedCodec(sub *program) typeCodec {
	return typeCodec{
		dec: func(d *cdr.Decoder) (any, error) { return sub.decode(d) },
		norm: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrInvalidFieldValue, v, sub.name)
			}
			c, err := sub.normalize(m)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		emit: func(e *cdr.Encoder, v any) { sub.emit(e, v.([]any)) },
	}
}

// containerCodec serves both fixed arrays (fixed true, length set) and
// sequences (fixed false, maxLength optionally bounding encode).
func containerCodec(elem schema.Type, ec typeCodec, length, maxLength int, fixed bool) typeCodec {
	dec := func(d *cdr.Decoder) (any, error) {
		n := length
		if !fixed {
			var err error
			n, err = d.SequenceLen()
			if err != nil {
				return nil, err
			}
		}
		return decodeElems(d, elem, ec, n)
	}
	norm := func(v any) (any, error) {
		elems, ok := sliceElems(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot encode %T as a container", ErrInvalidFieldValue, v)
		}
		if err := checkContainerLen(len(elems), fixed, length, maxLength); err != nil {
			return nil, err
		}
		canon := make([]any, len(elems))
		for i, el := range elems {
			c, err := ec.norm(el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			canon[i] = c
		}
		return canon, nil
	}
	emit := func(e *cdr.Encoder, v any) {
		elems := v.([]any)
		if !fixed {
			e.PutSequenceLen(len(elems))
		}
		for _, el := range elems {
			ec.emit(e, el)
		}
	}
	return typeCodec{dec: dec, norm: norm, emit: emit}
}

// decodeElems reads n container elements, producing a typed slice per
// element variant so primitive payloads decode without per-element boxing.
func decodeElems(d *cdr.Decoder, elem schema.Type, ec typeCodec, n int) (any, error) {
	switch x := elem.(type) {
	case schema.Primitive:
		return decodePrimitiveRun(d, x.Kind, n)
	case schema.String:
		out := make([]string, n)
		for i := range out {
			v, err := ec.dec(d)
			if err != nil {
				return nil, err
			}
			out[i] = v.(string)
		}
		return out, nil
	case schema.Named:
		out := make([]map[string]any, n)
		for i := range out {
			v, err := ec.dec(d)
			if err != nil {
				return nil, err
			}
			out[i] = v.(map[string]any)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: containers cannot nest directly", ErrUnsupportedSchema)
}
