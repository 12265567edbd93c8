// Package backendreg implements the engine's backend registry: a simple
// id-keyed map with idempotent last-write-wins registration.
package backendreg

import (
	"sync"

	"github.com/goliatone/quillmark/pkg/quillspec"
)

// Registry stores registered Backend implementations by ID.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]quillspec.Backend
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{backends: map[string]quillspec.Backend{}}
}

// Register adds or replaces the backend under its own ID(). Re-registering
// the same ID is not an error; the new backend simply replaces the old one.
func (r *Registry) Register(b quillspec.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.ID()] = b
}

// Get looks up a backend by ID.
func (r *Registry) Get(id string) (quillspec.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// IDs lists every registered backend ID in undefined order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for id := range r.backends {
		out = append(out, id)
	}
	return out
}
