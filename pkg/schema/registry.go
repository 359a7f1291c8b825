package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateSchema indicates a registration under an already taken
	// name.
	ErrDuplicateSchema = errors.New("duplicate schema name")
	// ErrUnknownSchema indicates a name no registered schema answers to.
	ErrUnknownSchema = errors.New("unknown schema")
)

// Registry resolves schema names to definitions.
//
// Thread Safety: implementations must be safe for concurrent Lookup once
// populated. Codecs hold a Registry for the lifetime of a file session.
type Registry interface {
	Lookup(name string) (*Schema, bool)
}

// MapRegistry is an in-memory Registry.
//
// Thread Safety: MapRegistry is safe for concurrent use; registration and
// lookup take an internal lock.
type MapRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewMapRegistry returns a registry holding the given schemas.
func NewMapRegistry(schemas ...*Schema) (*MapRegistry, error) {
	r := &MapRegistry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema, rejecting duplicate names.
func (r *MapRegistry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, s.Name)
	}
	r.schemas[s.Name] = s
	return nil
}

// Lookup returns the schema registered under name.
func (r *MapRegistry) Lookup(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered schema names in sorted order.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
