package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Backends manages all available engine backends
type Backends struct {
	backends map[string]Backend
}

// NewBackends creates an empty backend table
func NewBackends() *Backends {
	return &Backends{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the table
func (b *Backends) Register(backend Backend) {
	b.backends[strings.ToLower(backend.Name())] = backend
}

// Get retrieves a backend by name
func (b *Backends) Get(name string) (Backend, error) {
	backend, exists := b.backends[strings.ToLower(name)]
	if !exists {
		return nil, fmt.Errorf("engine backend %s not found (available: %s)", name, strings.Join(b.List(), ", "))
	}
	return backend, nil
}

// List returns all registered backend names in sorted order
func (b *Backends) List() []string {
	names := make([]string, 0, len(b.backends))
	for name := range b.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has checks if a backend is registered
func (b *Backends) Has(name string) bool {
	_, exists := b.backends[strings.ToLower(name)]
	return exists
}
