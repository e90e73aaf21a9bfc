package pipeline

import (
	"fmt"
	"sort"
)

// Registry maps stable stage identifiers to implementations. It is filled
// at startup and read-only once sealed; lookups need no locking.
type Registry struct {
	stages map[string]Stage
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{stages: map[string]Stage{}}
}

// Register adds a stage under id.
func (r *Registry) Register(id string, s Stage) error {
	switch {
	case r.sealed:
		return fmt.Errorf("registry is sealed, cannot register %q", id)
	case id == "":
		return fmt.Errorf("stage identifier is empty")
	case s == nil:
		return fmt.Errorf("stage %q is nil", id)
	}
	if _, ok := r.stages[id]; ok {
		return fmt.Errorf("stage %q already registered", id)
	}
	r.stages[id] = s
	return nil
}

func (r *Registry) Lookup(id string) (Stage, bool) {
	s, ok := r.stages[id]
	return s, ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.stages))
	for id := range r.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seal prevents further registrations.
func (r *Registry) Seal() { r.sealed = true }
