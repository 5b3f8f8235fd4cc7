// Registry is the process-wide, insertion-order-irrelevant mapping from
// API name to API instance. Registration is explicit — an application
// calls Registry.Add from its own startup code rather than relying on
// import-order side effects.
package api

import (
	"sync"

	"github.com/bx-d/bus/buserr"
)

// Registry is a process-wide mapping from API name to *API. The zero value
// is not usable; construct with NewRegistry.
type Registry struct {
	mu   sync.RWMutex
	apis map[string]*API
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{apis: map[string]*API{}}
}

// Add inserts api under name. Fails with ErrDuplicateApi if name is already
// registered — double registration is a loud, rejected failure rather than
// a silent replace.
//
// Add's signature only accepts a constructed *API, so the one invalid
// entry still expressible is a nil *API; that is rejected with
// ErrInvalidApiRegistryEntry.
func (r *Registry) Add(name string, a *API) error {
	if a == nil {
		return buserr.Wrapf(buserr.ErrInvalidApiRegistryEntry, "nil api registered under %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apis[name]; exists {
		return buserr.Wrapf(buserr.ErrDuplicateApi, "api %q is already registered", name)
	}
	r.apis[name] = a
	return nil
}

// Get returns the API registered under name, or ErrUnknownApi.
func (r *Registry) Get(name string) (*API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apis[name]
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrUnknownApi, "%q", name)
	}
	return a, nil
}

// Names enumerates registered API names in an unspecified but stable order
// (map iteration order within a single snapshot is stable for the
// lifetime of the returned slice).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apis))
	for name := range r.apis {
		names = append(names, name)
	}
	return names
}

// Iterate returns a snapshot of all registered API instances.
func (r *Registry) Iterate() []*API {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*API, 0, len(r.apis))
	for _, a := range r.apis {
		out = append(out, a)
	}
	return out
}
