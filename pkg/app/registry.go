package app

import (
	"fmt"
	"sort"
	"sync"
)

// Info describes a registered app factory.
type Info struct {
	// Name is the app's identifier, also used as its config section key.
	Name string

	// Description is a short human-readable summary.
	Description string

	// Order controls startup sequence; lower starts first. Default 50.
	Order int

	// Factory creates the app's configured instances.
	Factory Factory
}

// Registry holds registered app factories.
type Registry struct {
	mu    sync.RWMutex
	infos map[string]Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{infos: make(map[string]Info)}
}

// Register adds an app factory. Registering the same name twice is an error.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("app %s: factory cannot be nil", info.Name)
	}
	if _, exists := r.infos[info.Name]; exists {
		return fmt.Errorf("app %s already registered", info.Name)
	}

	if info.Order == 0 {
		info.Order = 50
	}
	r.infos[info.Name] = info
	return nil
}

// List returns all registered apps sorted by startup order, then name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		result = append(result, info)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns the registered app names in startup order.
func (r *Registry) Names() []string {
	infos := r.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// CreateAll instantiates every registered app's configured instances in
// startup order. On error, already-created apps are stopped in reverse.
func (r *Registry) CreateAll(ctx *Context) ([]App, error) {
	var created []App

	for _, info := range r.List() {
		instances, err := info.Factory(ctx)
		if err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				created[i].Stop()
			}
			return nil, fmt.Errorf("failed to create app %s: %w", info.Name, err)
		}
		created = append(created, instances...)
	}

	return created, nil
}

// Clear removes all registrations. Useful for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = make(map[string]Info)
}

// Global registry, populated from init() in app packages.
var globalRegistry = NewRegistry()

// Register adds an app factory to the global registry.
func Register(info Info) error {
	return globalRegistry.Register(info)
}

// List returns all apps from the global registry.
func List() []Info {
	return globalRegistry.List()
}

// Names returns all app names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// CreateAll creates all apps from the global registry.
func CreateAll(ctx *Context) ([]App, error) {
	return globalRegistry.CreateAll(ctx)
}

// ClearGlobal clears the global registry. Useful for tests.
func ClearGlobal() {
	globalRegistry.Clear()
}
