package codec

import (
	"fmt"

	"github.com/bagworks/gobag/pkg/schema"
)

// resolve loads root and every schema it references, rejecting unknown
// names, reference cycles, and type shapes the codec cannot put on the
// wire. All compilation failures surface here, before any message is
// touched.
func resolve(reg schema.Registry, root string) (*schema.Schema, map[string]*schema.Schema, error) {
	deps := make(map[string]*schema.Schema)
	visiting := make(map[string]bool)

	var walk func(name string) (*schema.Schema, error)
	walk = func(name string) (*schema.Schema, error) {
		if s, ok := deps[name]; ok {
			return s, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("%w: recursive reference through %s", ErrUnsupportedSchema, name)
		}
		s, ok := reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not in the registry", ErrUnsupportedSchema, name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		for _, entry := range s.Entries {
			switch x := entry.(type) {
			case schema.Constant:
				if _, err := constantValue(x); err != nil {
					return nil, fmt.Errorf("schema %s: %w", name, err)
				}
			case schema.Field:
				if err := validateType(x.Type); err != nil {
					return nil, fmt.Errorf("schema %s field %s: %w", name, x.Name, err)
				}
				if ref, ok := namedRef(x.Type); ok {
					if _, err := walk(ref); err != nil {
						return nil, err
					}
				}
			}
		}

		deps[name] = s
		return s, nil
	}

	rootSchema, err := walk(root)
	if err != nil {
		return nil, nil, err
	}
	return rootSchema, deps, nil
}

func validateType(t schema.Type) error {
	switch x := t.(type) {
	case schema.Primitive:
		if x.Kind.Width() == 0 {
			return fmt.Errorf("%w: unknown primitive kind %d", ErrUnsupportedSchema, x.Kind)
		}
	case schema.String:
		if x.Wide {
			return fmt.Errorf("%w: wide strings are not encodable", ErrUnsupportedSchema)
		}
	case schema.Array:
		if x.Length <= 0 {
			return fmt.Errorf("%w: array length must be positive", ErrUnsupportedSchema)
		}
		return validateElem(x.Elem)
	case schema.Sequence:
		return validateElem(x.Elem)
	case schema.Named:
	default:
		return fmt.Errorf("%w: unknown type %T", ErrUnsupportedSchema, t)
	}
	return nil
}

func validateElem(t schema.Type) error {
	switch t.(type) {
	case schema.Array, schema.Sequence:
		return fmt.Errorf("%w: containers cannot nest directly", ErrUnsupportedSchema)
	}
	return validateType(t)
}

func namedRef(t schema.Type) (string, bool) {
	for {
		switch x := t.(type) {
		case schema.Array:
			t = x.Elem
		case schema.Sequence:
			t = x.Elem
		case schema.Named:
			return x.Name, true
		default:
			return "", false
		}
	}
}
