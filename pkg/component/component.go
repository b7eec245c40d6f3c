package component

import "context"

// Component is the contract every extension must fulfil. Implementations are
// expected to be safe for a single Configure/Init/Start/Stop lifecycle; the
// manager never calls lifecycle methods concurrently on one instance.
type Component interface {
	// Info reports static metadata used for registry bookkeeping and
	// capability policy checks.
	Info() Info
	// Configure receives the merged configuration map prior to Init.
	Configure(config map[string]any) error
	// Init prepares internal state. It runs once, before Start.
	Init(ctx *ExecutionContext) error
	// Start activates the component.
	Start(ctx *ExecutionContext) error
	// Stop releases resources. It must be safe to call after a failed Start.
	Stop(ctx *ExecutionContext) error
}

// ExecutionContext carries per-invocation data into lifecycle methods.
type ExecutionContext struct {
	C         context.Context
	Config    map[string]any
	Resources map[string]any
}

// Clone returns a shallow copy with independent Config and Resources maps.
func (e *ExecutionContext) Clone() *ExecutionContext {
	clone := &ExecutionContext{
		C:         e.C,
		Config:    make(map[string]any, len(e.Config)),
		Resources: make(map[string]any, len(e.Resources)),
	}
	for k, v := range e.Config {
		clone.Config[k] = v
	}
	for k, v := range e.Resources {
		clone.Resources[k] = v
	}
	return clone
}

// Option customises manager construction.
type Option func(*Manager)

// WithLoader overrides the loader used for path-based extensions.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy overrides the capability isolation strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithDefaultPolicy sets the policy applied to components registered without
// one of their own.
func WithDefaultPolicy(policy IsolationPolicy) Option {
	return func(m *Manager) {
		m.defaults = policy
	}
}

// WithResource exposes a shared resource to every component's
// ExecutionContext under the given key.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key != "" {
			m.resources[key] = value
		}
	}
}
