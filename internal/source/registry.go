package source

import (
	"fmt"
	"sync"

	"github.com/Seiaaxn/kanaver3/internal/ports"
)

// Registry keeps a mapping from source ids to their adapters.
// Registration order is preserved so default source sets stay
// deterministic.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ports.SourceAdapter
	order    []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]ports.SourceAdapter{}}
}

// Register adds or replaces a source adapter.
func (r *Registry) Register(adapter ports.SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := adapter.ID()
	if _, exists := r.adapters[id]; !exists {
		r.order = append(r.order, id)
	}
	r.adapters[id] = adapter
}

// Resolve returns an adapter by id or an error if it is absent.
func (r *Registry) Resolve(id string) (ports.SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if adapter, ok := r.adapters[id]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("source %s is not registered", id)
}

// IDs lists registered source ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
