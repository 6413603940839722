package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Descriptor describes one statistic the Quantics service can compute.
type Descriptor struct {
	Name              string `json:"name"`
	Endpoint          string `json:"endpoint"`
	Description       string `json:"description"`
	OutputDescription string `json:"output_description"`
}

// Registry holds the set of dispatchable statistics. Registration happens
// once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

// NewRegistry creates a registry from the given descriptors. A duplicate
// name is a configuration bug and fails construction.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Descriptor),
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a statistic to the registry
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("statistic name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("statistic %q is already registered", d.Name)
	}

	if d.Endpoint == "" {
		d.Endpoint = Slug(d.Name)
	}

	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Resolve returns the descriptor for a statistic name
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown statistic: %q", name)
	}
	return d, nil
}

// Has reports whether a statistic is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// List returns all descriptors in registration order
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns all registered statistic names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Len returns the number of registered statistics
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Slug converts a statistic name to its endpoint path segment,
// e.g. "Cumulative Price" becomes "cumulative-price".
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
