package ops

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one business operation. args is the sparse argument
// map built by the request layer: absent parameters are simply missing,
// never present with a nil value. The returned payload must be
// JSON-serializable; failures should be taxonomy errors so they keep
// their code and kind across node boundaries.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Callable is a registered operation.
type Callable struct {
	// Name is the registry key, also used to address the operation in
	// forwarded calls.
	Name string

	// Handler runs the operation.
	Handler Handler

	// ContextAware marks handlers that honor ctx cancellation and can be
	// cut off cleanly when a per-node deadline expires. Handlers without
	// it are abandoned on timeout and finish in the background.
	ContextAware bool
}

// Registry maps operation names to callables. It is safe for concurrent
// use; registration normally happens once at startup, lookups happen on
// every dispatch.
type Registry struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{callables: make(map[string]Callable)}
}

// Register adds a callable. Registering a duplicate or unnamed callable
// is a programming error and fails loudly.
func (r *Registry) Register(c Callable) error {
	if c.Name == "" {
		return fmt.Errorf("callable has no name")
	}
	if c.Handler == nil {
		return fmt.Errorf("callable %q has no handler", c.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callables[c.Name]; dup {
		return fmt.Errorf("callable %q already registered", c.Name)
	}
	r.callables[c.Name] = c
	return nil
}

// MustRegister is Register for static wiring at startup.
func (r *Registry) MustRegister(c Callable) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns the callable registered under name.
func (r *Registry) Get(name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callables[name]
	return c, ok
}

// Names returns every registered operation name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.callables))
	for name := range r.callables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
