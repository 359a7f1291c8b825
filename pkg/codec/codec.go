// Package codec turns schemas into message codecs: compiled per-field
// programs for the common shapes, and a generic interpreter that walks the
// schema structure and produces byte-identical output.
//
// Decoded messages are map[string]any using a fixed value model: bool,
// int8..int64, uint8..uint64 (byte and char normalize to uint8), float32,
// float64, string, typed slices for primitive containers, and nested maps
// for named references. Constants declared by a schema are materialized
// into decoded messages and never written to the wire.
package codec

import (
	"fmt"
	"sync"

	"github.com/bagworks/gobag/pkg/cdr"
	"github.com/bagworks/gobag/pkg/schema"
)

// Codec encodes and decodes messages of one schema.
//
// Thread Safety: a Codec is immutable after construction and safe for
// concurrent use.
type Codec struct {
	name   string
	decode func(*cdr.Decoder) (map[string]any, error)
	encode func(*cdr.Encoder, map[string]any) error
}

// Name returns the schema name the codec was built for.
func (c *Codec) Name() string { return c.name }

// Decode parses an encapsulated payload into field values keyed by field
// name. Constants declared by the schema are materialized into the result.
func (c *Codec) Decode(data []byte) (map[string]any, error) {
	d, err := cdr.NewDecoder(data)
	if err != nil {
		return nil, err
	}
	v, err := c.decode(d)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return v, nil
}

// Encode validates value against the schema and produces an encapsulated
// little-endian payload. The whole message is validated before any byte is
// produced, so a failed Encode never leaves partial output anywhere.
func (c *Codec) Encode(value map[string]any) ([]byte, error) {
	e := cdr.NewEncoder(true)
	if err := c.EncodeTo(e, value); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeTo appends the message to an existing encoder.
func (c *Codec) EncodeTo(e *cdr.Encoder, value map[string]any) error {
	if err := c.encode(e, value); err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	return nil
}

// CompilerOptions adjust how schemas become Codecs.
type CompilerOptions struct {
	// ForceInterpreter bypasses compiled field programs and serves every
	// schema through the generic walking codec.
	ForceInterpreter bool
}

// Compiler builds Codecs from registered schemas, memoizing them by name.
//
// Thread Safety: safe for concurrent use. Racing first compilations of the
// same schema converge on whichever codec lands in the cache first; later
// callers always observe that one.
type Compiler struct {
	reg  schema.Registry
	opts CompilerOptions

	mu    sync.RWMutex
	cache map[string]*Codec
}

// NewCompiler returns a compiler resolving names through reg.
func NewCompiler(reg schema.Registry) *Compiler {
	return NewCompilerWithOptions(reg, CompilerOptions{})
}

// NewCompilerWithOptions returns a compiler with explicit options.
func NewCompilerWithOptions(reg schema.Registry, opts CompilerOptions) *Compiler {
	return &Compiler{reg: reg, opts: opts, cache: make(map[string]*Codec)}
}

// Compile returns the codec for the named schema, building it on first use.
// Unknown names, reference cycles, and unsupported type shapes fail here,
// never during decode or encode.
func (c *Compiler) Compile(name string) (*Codec, error) {
	c.mu.RLock()
	cached, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var codec *Codec
	var err error
	if c.opts.ForceInterpreter {
		codec, err = c.Interpret(name)
	} else {
		codec, err = c.build(name)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[name]; ok {
		return existing, nil
	}
	c.cache[name] = codec
	return codec, nil
}

func (c *Compiler) build(name string) (*Codec, error) {
	root, deps, err := resolve(c.reg, name)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	prog, err := buildProgram(root, deps, make(map[string]*program))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Codec{
		name:   name,
		decode: prog.decode,
		encode: func(e *cdr.Encoder, value map[string]any) error {
			canon, err := prog.normalize(value)
			if err != nil {
				return err
			}
			prog.emit(e, canon)
			return nil
		},
	}, nil
}
