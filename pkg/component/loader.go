package component

import (
	"fmt"
	"plugin"
	"sort"
	"sync"
)

// Loader resolves a component implementation from a shared object path.
type Loader interface {
	Load(path string) (Component, error)
}

// GoPluginLoader loads components built with the Go plugin toolchain. The
// shared object must export a symbol named Component that is either a
// Component value, a pointer to one, or a func() Component constructor.
type GoPluginLoader struct{}

func (GoPluginLoader) Load(path string) (Component, error) {
	if path == "" {
		return nil, fmt.Errorf("component: load path is empty")
	}
	handle, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("component: open %s: %w", path, err)
	}
	symbol, err := handle.Lookup("Component")
	if err != nil {
		return nil, fmt.Errorf("component: %s exports no Component symbol: %w", path, err)
	}
	switch v := symbol.(type) {
	case Component:
		return v, nil
	case *Component:
		if *v == nil {
			return nil, fmt.Errorf("component: %s exports a nil Component", path)
		}
		return *v, nil
	case func() Component:
		return v(), nil
	default:
		return nil, fmt.Errorf("component: %s exports Component with unsupported type %T", path, symbol)
	}
}

// Factory creates a component instance for an in-process registration.
type Factory func() Component

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a named in-process factory available to managers.
// It panics on duplicate or empty names, mirroring database/sql.Register.
func RegisterFactory(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if name == "" {
		panic("component: RegisterFactory with empty name")
	}
	if factory == nil {
		panic("component: RegisterFactory with nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("component: RegisterFactory called twice for " + name)
	}
	factories[name] = factory
}

// LookupFactory returns a previously registered factory.
func LookupFactory(name string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	factory, ok := factories[name]
	return factory, ok
}

// Factories lists registered factory names in sorted order.
func Factories() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
