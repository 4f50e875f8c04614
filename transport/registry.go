package transport

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maintains a mapping of driver names to drivers.
// Driver packages should register themselves using Register.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new transport registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver under its own name and any aliases. The name should
// match the PubSubSystem config value (e.g., "kafka", "rabbitmq").
func (r *Registry) Register(d Driver, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name()] = d
	for _, alias := range aliases {
		r.drivers[alias] = d
	}
}

// GetCapabilities returns the capabilities for a registered driver.
// Returns a zero Capabilities struct if the driver is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.drivers[name]; ok {
		return d.Capabilities()
	}
	return Capabilities{Name: name}
}

// Resolve returns the driver selected by the config's PubSubSystem.
func (r *Registry) Resolve(cfg Config) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	d, ok := r.drivers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	return d, nil
}

// Names returns the sorted list of registered driver names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has returns true if a driver is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drivers[name]
	return ok
}

// Register adds a driver to the default registry.
func Register(d Driver, aliases ...string) {
	DefaultRegistry.Register(d, aliases...)
}

// GetCapabilities returns capabilities from the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Resolve looks up a driver in the default registry.
func Resolve(cfg Config) (Driver, error) {
	return DefaultRegistry.Resolve(cfg)
}
