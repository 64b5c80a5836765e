// Package mappers implements the Mapper Registry (spec.md §4.4): named,
// lazily-loaded transforms applied to raw source documents before they are
// written to a build's target collection.
package mappers

import (
	"fmt"
	"sync"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// DefaultMapperName is the sentinel under which the always-present
// transparent identity mapper is registered.
const DefaultMapperName = "_default"

// Registry holds every mapper a build may reference by name.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]interfaces.Mapper
}

// NewRegistry returns a Registry with the default identity mapper already
// registered.
func NewRegistry() *Registry {
	r := &Registry{mappers: make(map[string]interfaces.Mapper)}
	r.Register(NewIdentityMapper())
	return r
}

// Register adds or replaces a mapper under its own Name().
func (r *Registry) Register(m interfaces.Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[m.Name()] = m
}

// Get returns the mapper registered under name, or a BuilderException-style
// error if none is registered.
func (r *Registry) Get(name string) (interfaces.Mapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappers[name]
	if !ok {
		return nil, fmt.Errorf("unknown mapper %q", name)
	}
	return m, nil
}

// Default returns the sentinel identity mapper.
func (r *Registry) Default() interfaces.Mapper {
	m, _ := r.Get(DefaultMapperName)
	return m
}
