package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds the built-in adapters. layers may be nil.
func NewRegistry(media *MediaService, retry RetryPolicy, layers *LayerClient) *Registry {
	return NewRegistryWith(
		NewDreamAdapter(media, retry, layers),
		NewNanoAdapter(media, retry),
	)
}

// NewRegistryWith registers arbitrary adapters; later names win.
func NewRegistryWith(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("adapter registry not initialised")
	}
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
