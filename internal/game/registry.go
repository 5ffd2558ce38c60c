package game

import (
	"fmt"
	"sort"
	"sync"

	"dice-wager-engine/internal/model"
)

// Registry manages variant registration and lookup.
type Registry struct {
	variants map[model.GameVariant]Variant
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[model.GameVariant]Variant),
	}
}

// Register adds a variant, replacing one with the same name.
func (r *Registry) Register(v Variant) error {
	if v == nil {
		return fmt.Errorf("cannot register nil variant")
	}
	if v.Name() == "" {
		return fmt.Errorf("variant name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.Name()] = v
	return nil
}

// Get retrieves a variant by name.
func (r *Registry) Get(name model.GameVariant) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[name]
	return v, ok
}

// Names returns the registered variant names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered variants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variants)
}
