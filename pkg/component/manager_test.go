package component

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubComponent struct {
	info       Info
	configured map[string]any
	initCalls  int
	startCalls int
	stopCalls  int
	startErr   error
	onStart    func()
}

func (s *stubComponent) Info() Info { return s.info }

func (s *stubComponent) Configure(config map[string]any) error {
	s.configured = config
	return nil
}

func (s *stubComponent) Init(*ExecutionContext) error {
	s.initCalls++
	return nil
}

func (s *stubComponent) Start(*ExecutionContext) error {
	s.startCalls++
	if s.onStart != nil {
		s.onStart()
	}
	return s.startErr
}

func (s *stubComponent) Stop(*ExecutionContext) error {
	s.stopCalls++
	return nil
}

type fakeLoader struct {
	components map[string]Component
	paths      []string
}

func (f *fakeLoader) Load(path string) (Component, error) {
	f.paths = append(f.paths, path)
	comp, ok := f.components[path]
	if !ok {
		return nil, errors.New("no such component")
	}
	return comp, nil
}

func newStub(id string, capabilities ...Capability) *stubComponent {
	return &stubComponent{info: Info{
		ID:           id,
		Name:         id,
		Version:      "1.0.0",
		Category:     TypeProvider,
		Capabilities: capabilities,
	}}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(WithResource("token", "secret"))
	stub := newStub("alpha", CapabilityNetwork)

	if err := m.Register(stub, map[string]any{"key": "value"}, IsolationPolicy{}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if state, _ := m.State("alpha"); state != StateRegistered {
		t.Fatalf("expected registered state, got %s", state)
	}
	if stub.configured["key"] != "value" {
		t.Fatalf("expected configure to receive the config map")
	}

	ctx := context.Background()
	if err := m.Start(ctx, "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if stub.initCalls != 1 || stub.startCalls != 1 {
		t.Fatalf("expected one init and one start, got %d/%d", stub.initCalls, stub.startCalls)
	}
	if state, _ := m.State("alpha"); state != StateStarted {
		t.Fatalf("expected started state, got %s", state)
	}

	// Init must not run again on a restart after stop.
	if err := m.Stop(ctx, "alpha"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stub.stopCalls != 1 {
		t.Fatalf("expected one stop, got %d", stub.stopCalls)
	}
	if err := m.Start(ctx, "alpha"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if stub.initCalls != 1 {
		t.Fatalf("init ran again on restart")
	}
}

func TestManagerUnknownComponent(t *testing.T) {
	m := NewManager()
	if err := m.Start(context.Background(), "ghost"); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
	if _, err := m.State("ghost"); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestManagerRejectsDeniedCapability(t *testing.T) {
	m := NewManager()
	stub := newStub("sandboxed", CapabilityExecution)
	policy := IsolationPolicy{DeniedCapabilities: []Capability{CapabilityExecution}}
	if err := m.Register(stub, nil, policy, 0); err == nil {
		t.Fatal("expected registration to fail on denied capability")
	}
}

func TestManagerRejectsCapabilityOutsideAllowList(t *testing.T) {
	m := NewManager()
	stub := newStub("netless", CapabilityNetwork)
	policy := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityFilesystem}}
	if err := m.Register(stub, nil, policy, 0); err == nil {
		t.Fatal("expected registration to fail outside the allow list")
	}
}

func TestManagerAppliesDefaultPolicy(t *testing.T) {
	m := NewManager(WithDefaultPolicy(IsolationPolicy{
		DeniedCapabilities: []Capability{CapabilityExecution},
	}))
	if err := m.Register(newStub("runner", CapabilityExecution), nil, IsolationPolicy{}, 0); err == nil {
		t.Fatal("expected default policy to deny execution")
	}
	if err := m.Register(newStub("reader", CapabilityFilesystem), nil, IsolationPolicy{}, 0); err != nil {
		t.Fatalf("expected filesystem component to pass: %v", err)
	}
}

func TestStartAllHonoursOrder(t *testing.T) {
	m := NewManager()
	var started []string
	record := func(id string) func() {
		return func() { started = append(started, id) }
	}

	late := newStub("late")
	late.onStart = record("late")
	early := newStub("early")
	early.onStart = record("early")
	tied := newStub("a-tied")
	tied.onStart = record("a-tied")

	if err := m.Register(late, nil, IsolationPolicy{}, 10); err != nil {
		t.Fatalf("register late: %v", err)
	}
	if err := m.Register(early, nil, IsolationPolicy{}, 1); err != nil {
		t.Fatalf("register early: %v", err)
	}
	if err := m.Register(tied, nil, IsolationPolicy{}, 10); err != nil {
		t.Fatalf("register tied: %v", err)
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	want := []string{"early", "a-tied", "late"}
	if len(started) != len(want) {
		t.Fatalf("expected %d starts, got %v", len(want), started)
	}
	for i, id := range want {
		if started[i] != id {
			t.Fatalf("expected start order %v, got %v", want, started)
		}
	}

	// StopAll runs in reverse start order.
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	for _, stub := range []*stubComponent{late, early, tied} {
		if stub.stopCalls != 1 {
			t.Fatalf("expected %s to stop once, got %d", stub.info.ID, stub.stopCalls)
		}
	}
}

func TestStartAllStopsOnFailure(t *testing.T) {
	m := NewManager()
	broken := newStub("broken")
	broken.startErr = errors.New("boom")
	if err := m.Register(broken, nil, IsolationPolicy{}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected start failure to propagate")
	}
	if state, _ := m.State("broken"); state == StateStarted {
		t.Fatal("failed component must not report started")
	}
}

func TestLoadConfiguredResolvesFactoriesAndPaths(t *testing.T) {
	fromFactory := newStub("from-factory")
	RegisterFactory("test-factory", func() Component { return fromFactory })

	fromPath := newStub("from-path")
	loader := &fakeLoader{components: map[string]Component{
		filepath.Join("/opt/components", "net.so"): fromPath,
	}}

	m := NewManager(WithLoader(loader))
	cfg := &ManagerConfig{
		ComponentDir: "/opt/components",
		Defaults:     map[string]any{"timeout": 5},
		Components: map[string]ComponentConfig{
			"from-factory": {Enabled: true, Factory: "test-factory", Config: map[string]any{"timeout": 9}},
			"from-path":    {Enabled: true, Path: "net.so", Order: 2},
			"disabled":     {Enabled: false},
		},
	}
	if err := m.LoadConfigured(cfg); err != nil {
		t.Fatalf("load configured: %v", err)
	}
	if fromFactory.configured["timeout"] != 9 {
		t.Fatalf("expected entry config to override default, got %v", fromFactory.configured["timeout"])
	}
	if fromPath.configured["timeout"] != 5 {
		t.Fatalf("expected default to apply, got %v", fromPath.configured["timeout"])
	}
	if len(loader.paths) != 1 || loader.paths[0] != filepath.Join("/opt/components", "net.so") {
		t.Fatalf("expected relative path to resolve against componentDir, got %v", loader.paths)
	}
	if infos := m.Components(); len(infos) != 2 {
		t.Fatalf("expected two registered components, got %d", len(infos))
	}
}

func TestLoadManagerConfig(t *testing.T) {
	manifest := `
componentDir: /opt/components
defaults:
  timeout: 3
components:
  web-search:
    enabled: true
    factory: web-search
    order: 1
    config:
      retries: 2
    policy:
      allowedCapabilities: [network]
  archive:
    enabled: true
    path: archive.so
    policy:
      deniedCapabilities: [execution]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "components.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if cfg.ComponentDir != "/opt/components" {
		t.Fatalf("unexpected componentDir %q", cfg.ComponentDir)
	}
	entry, ok := cfg.Components["web-search"]
	if !ok {
		t.Fatal("missing web-search entry")
	}
	if entry.Order != 1 || entry.Factory != "web-search" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(entry.Policy.AllowedCapabilities) != 1 || entry.Policy.AllowedCapabilities[0] != CapabilityNetwork {
		t.Fatalf("unexpected policy %+v", entry.Policy)
	}
}

func TestLoadManagerConfigRejectsAmbiguousEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "components.yaml")
	manifest := `
components:
  both:
    enabled: true
    factory: x
    path: y.so
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadManagerConfig(path); err == nil {
		t.Fatal("expected validation failure for factory+path entry")
	}
}

func TestPolicyMerge(t *testing.T) {
	base := IsolationPolicy{
		AllowedCapabilities: []Capability{CapabilityNetwork, CapabilityFilesystem},
		DeniedCapabilities:  []Capability{CapabilityExecution},
	}
	narrow := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork}}
	merged := base.Merge(narrow)
	if len(merged.AllowedCapabilities) != 1 || merged.AllowedCapabilities[0] != CapabilityNetwork {
		t.Fatalf("expected intersection of allow lists, got %v", merged.AllowedCapabilities)
	}
	if len(merged.DeniedCapabilities) != 1 || merged.DeniedCapabilities[0] != CapabilityExecution {
		t.Fatalf("expected denials to carry over, got %v", merged.DeniedCapabilities)
	}
}
