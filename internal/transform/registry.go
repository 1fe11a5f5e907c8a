package transform

import (
	"fmt"
	"sort"
	"sync"

	fkerrors "github.com/arkilian/framekit/internal/errors"
)

// Registry holds the transformers available to pipelines.
type Registry struct {
	mu           sync.RWMutex
	transformers map[TransformerID]Transformer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transformers: make(map[TransformerID]Transformer)}
}

// DefaultRegistry returns a registry with the built-in transformers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Built-in IDs are distinct, so these cannot fail.
	_ = r.Register(NewSortFieldsTransformer())
	_ = r.Register(NewOrganizeFieldsTransformer())
	return r
}

// Register adds a transformer. Registering an ID twice is an error.
func (r *Registry) Register(t Transformer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transformers[t.ID()]; exists {
		return fmt.Errorf("transform: transformer %q already registered", t.ID())
	}
	r.transformers[t.ID()] = t
	return nil
}

// Get returns the transformer registered under id.
func (r *Registry) Get(id TransformerID) (Transformer, error) {
	r.mu.RLock()
	t, ok := r.transformers[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fkerrors.New(fkerrors.ErrCategoryValidation, fkerrors.CodeUnknownTransformer,
			fmt.Sprintf("unknown transformer %q", id))
	}
	return t, nil
}

// List returns all transformers sorted by ID.
func (r *Registry) List() []Transformer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Transformer, 0, len(r.transformers))
	for _, t := range r.transformers {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}
