// Package schema models message type definitions: named schemas made of
// declaration-ordered fields and constants over a closed set of wire types.
package schema

import "fmt"

// Kind enumerates the fixed-width primitive types.
type Kind uint8

const (
	Bool Kind = iota + 1
	Byte
	Char
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var kindNames = map[Kind]string{
	Bool:    "bool",
	Byte:    "byte",
	Char:    "char",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

var kindWidths = map[Kind]int{
	Bool:    1,
	Byte:    1,
	Char:    1,
	Int8:    1,
	Uint8:   1,
	Int16:   2,
	Uint16:  2,
	Int32:   4,
	Uint32:  4,
	Int64:   8,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
}

// String returns the canonical type spelling.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Width returns the wire size of the primitive in bytes. Alignment equals
// width.
func (k Kind) Width() int {
	return kindWidths[k]
}

// KindByName returns the Kind for a canonical type spelling.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Type is the closed set of wire types a field can carry.
type Type interface {
	isType()
	String() string
}

// Primitive is a fixed-width scalar.
type Primitive struct {
	Kind Kind
}

// String is a text field. Wide selects the wstring wire type; MaxLength 0
// means unbounded.
type String struct {
	Wide      bool
	MaxLength int
}

// Array is a fixed-length run of Elem with no length prefix on the wire.
type Array struct {
	Elem   Type
	Length int
}

// Sequence is a variable-length run of Elem behind a u32 count. MaxLength 0
// means unbounded.
type Sequence struct {
	Elem      Type
	MaxLength int
}

// Named references another schema by registered name.
type Named struct {
	Name string
}

func (Primitive) isType() {}
func (String) isType()    {}
func (Array) isType()     {}
func (Sequence) isType()  {}
func (Named) isType()     {}

func (p Primitive) String() string { return p.Kind.String() }

func (s String) String() string {
	base := "string"
	if s.Wide {
		base = "wstring"
	}
	if s.MaxLength > 0 {
		return fmt.Sprintf("%s<=%d", base, s.MaxLength)
	}
	return base
}

func (a Array) String() string {
	return fmt.Sprintf("%s[%d]", a.Elem, a.Length)
}

func (s Sequence) String() string {
	if s.MaxLength > 0 {
		return fmt.Sprintf("%s[<=%d]", s.Elem, s.MaxLength)
	}
	return s.Elem.String() + "[]"
}

func (n Named) String() string { return n.Name }

// Entry is one declaration in a schema: a wire field or a constant.
type Entry interface {
	isEntry()
	// EntryName returns the declared name.
	EntryName() string
}

// Field is a wire-carried value.
type Field struct {
	Name string
	Type Type
}

// Constant is a named value materialized at decode time and absent from
// the wire. Its type must be a Primitive or String.
type Constant struct {
	Name  string
	Type  Type
	Value any
}

func (Field) isEntry()    {}
func (Constant) isEntry() {}

// EntryName returns the declared field name.
func (f Field) EntryName() string { return f.Name }

// EntryName returns the declared constant name.
func (c Constant) EntryName() string { return c.Name }

// Schema is a named message definition with declaration-ordered entries.
type Schema struct {
	Name    string
	Entries []Entry
}

// Fields returns the wire-carried entries in declaration order.
func (s *Schema) Fields() []Field {
	fields := make([]Field, 0, len(s.Entries))
	for _, e := range s.Entries {
		if f, ok := e.(Field); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// Constants returns the constant entries in declaration order.
func (s *Schema) Constants() []Constant {
	consts := make([]Constant, 0)
	for _, e := range s.Entries {
		if c, ok := e.(Constant); ok {
			consts = append(consts, c)
		}
	}
	return consts
}
