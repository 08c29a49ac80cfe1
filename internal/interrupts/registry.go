package interrupts

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps platform-assigned controller names to controllers so
// clients can attach by name. Names must be unique system-wide.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]Controller
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]Controller)}
}

// Register adds a controller under name.
func (r *Registry) Register(name string, ctrl Controller) error {
	if name == "" {
		return fmt.Errorf("controller name is empty: %w", ErrBadArgument)
	}
	if ctrl == nil {
		return fmt.Errorf("controller %q is nil: %w", name, ErrBadArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.controllers[name]; exists {
		return fmt.Errorf("controller %q already registered: %w", name, ErrBadArgument)
	}
	r.controllers[name] = ctrl
	return nil
}

// Unregister removes name from the registry. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, name)
}

// Lookup returns the controller registered under name.
func (r *Registry) Lookup(name string) (Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("controller %q: %w", name, ErrNotFound)
	}
	return ctrl, nil
}

// Names returns the registered controller names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
