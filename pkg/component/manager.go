package component

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownComponent is returned for lifecycle calls on unregistered IDs.
var ErrUnknownComponent = errors.New("component: unknown component")

type instance struct {
	component Component
	info      Info
	config    map[string]any
	policy    IsolationPolicy
	order     int
	state     State
}

// Manager owns the lifecycle and capability policy of extension components.
type Manager struct {
	mu        sync.Mutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

// NewManager builds a manager with the Go plugin loader and the no-op
// isolation strategy unless options override them.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NoopIsolationStrategy{},
		resources: make(map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register validates and records a component instance. The policy is merged
// with the manager default before validation, and Configure runs with a copy
// of the supplied config so callers can reuse their maps.
func (m *Manager) Register(comp Component, config map[string]any, policy IsolationPolicy, order int) error {
	if comp == nil {
		return errors.New("component: register nil component")
	}
	info := comp.Info()
	if info.ID == "" {
		return errors.New("component: register component without ID")
	}
	effective := EnsurePolicy(policy, m.defaults)
	if len(policy.AllowedCapabilities) > 0 || len(policy.DeniedCapabilities) > 0 {
		effective = policy.Merge(m.defaults)
	}
	if err := m.isolation.Validate(info, effective); err != nil {
		return err
	}
	cfg := cloneConfig(config)
	if err := comp.Configure(cfg); err != nil {
		return fmt.Errorf("component: configure %s: %w", info.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[info.ID]; exists {
		return fmt.Errorf("component: %s already registered", info.ID)
	}
	m.registry[info.ID] = &instance{
		component: comp,
		info:      info,
		config:    cfg,
		policy:    effective,
		order:     order,
		state:     StateRegistered,
	}
	return nil
}

// LoadConfigured instantiates every enabled entry in the manifest, resolving
// in-process factories first and shared object paths second. Relative paths
// are resolved against ComponentDir.
func (m *Manager) LoadConfigured(cfg *ManagerConfig) error {
	if cfg == nil {
		return errors.New("component: nil manager config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for id, entry := range cfg.Components {
		if !entry.Enabled {
			continue
		}
		comp, err := m.resolve(cfg, entry)
		if err != nil {
			return fmt.Errorf("component: load %s: %w", id, err)
		}
		merged := cloneConfig(cfg.Defaults)
		for k, v := range entry.Config {
			merged[k] = v
		}
		if err := m.Register(comp, merged, entry.Policy, entry.Order); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) resolve(cfg *ManagerConfig, entry ComponentConfig) (Component, error) {
	if entry.Factory != "" {
		factory, ok := LookupFactory(entry.Factory)
		if !ok {
			return nil, fmt.Errorf("unknown factory %q", entry.Factory)
		}
		return factory(), nil
	}
	path := entry.Path
	if !filepath.IsAbs(path) && cfg.ComponentDir != "" {
		path = filepath.Join(cfg.ComponentDir, path)
	}
	return m.loader.Load(path)
}

// Start moves a registered component through Init (once) and Start.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.registry[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	return m.start(ctx, inst)
}

func (m *Manager) start(ctx context.Context, inst *instance) error {
	execCtx := m.executionContext(ctx, inst)
	if inst.state == StateRegistered {
		if err := inst.component.Init(execCtx); err != nil {
			return fmt.Errorf("component: init %s: %w", inst.info.ID, err)
		}
		inst.state = StateInitialised
	}
	if inst.state == StateStarted {
		return nil
	}
	if err := m.isolation.Prepare(inst.info, execCtx); err != nil {
		return fmt.Errorf("component: prepare %s: %w", inst.info.ID, err)
	}
	if err := inst.component.Start(execCtx); err != nil {
		return fmt.Errorf("component: start %s: %w", inst.info.ID, err)
	}
	inst.state = StateStarted
	return nil
}

// Stop halts a started component and runs isolation cleanup.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.registry[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	return m.stop(ctx, inst)
}

func (m *Manager) stop(ctx context.Context, inst *instance) error {
	if inst.state != StateStarted {
		return nil
	}
	execCtx := m.executionContext(ctx, inst)
	stopErr := inst.component.Stop(execCtx)
	cleanupErr := m.isolation.Cleanup(inst.info, execCtx)
	inst.state = StateStopped
	if stopErr != nil {
		return fmt.Errorf("component: stop %s: %w", inst.info.ID, stopErr)
	}
	if cleanupErr != nil {
		return fmt.Errorf("component: cleanup %s: %w", inst.info.ID, cleanupErr)
	}
	return nil
}

// StartAll starts every registered component ordered by (order, id).
func (m *Manager) StartAll(ctx context.Context) error {
	for _, inst := range m.ordered() {
		if err := m.start(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops components in reverse start order, collecting every failure.
func (m *Manager) StopAll(ctx context.Context) error {
	ordered := m.ordered()
	var errs []error
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := m.stop(ctx, ordered[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State reports the lifecycle state of a registered component.
func (m *Manager) State(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.registry[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	return inst.state, nil
}

// Components lists registered component infos ordered by (order, id).
func (m *Manager) Components() []Info {
	ordered := m.ordered()
	infos := make([]Info, 0, len(ordered))
	for _, inst := range ordered {
		infos = append(infos, inst.info)
	}
	return infos
}

func (m *Manager) ordered() []*instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := make([]*instance, 0, len(m.registry))
	for _, inst := range m.registry {
		ordered = append(ordered, inst)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].order != ordered[j].order {
			return ordered[i].order < ordered[j].order
		}
		return ordered[i].info.ID < ordered[j].info.ID
	})
	return ordered
}

func (m *Manager) executionContext(ctx context.Context, inst *instance) *ExecutionContext {
	execCtx := &ExecutionContext{
		C:         ctx,
		Config:    cloneConfig(inst.config),
		Resources: make(map[string]any, len(m.resources)),
	}
	for k, v := range m.resources {
		execCtx.Resources[k] = v
	}
	return execCtx
}

func cloneConfig(config map[string]any) map[string]any {
	clone := make(map[string]any, len(config))
	for k, v := range config {
		clone[k] = v
	}
	return clone
}
