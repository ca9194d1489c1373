package assembly

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds one Assembly per document, created on first access.
type Registry struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Assembly
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[uuid.UUID]*Assembly)}
}

// For returns the assembly for a document, creating it if needed.
func (r *Registry) For(documentID uuid.UUID) *Assembly {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[documentID]
	if !ok {
		a = New()
		r.items[documentID] = a
	}
	return a
}

// Remove clears a document's assembly and drops it from the registry.
// Removing an unknown document is a no-op.
func (r *Registry) Remove(documentID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.items[documentID]; ok {
		a.ClearAndDeactivate()
		delete(r.items, documentID)
	}
}

// Len returns the number of live assemblies. For testing.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
