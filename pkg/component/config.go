package component

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes the component roster loaded from a yaml manifest.
type ManagerConfig struct {
	// ComponentDir is the base directory for relative component paths.
	ComponentDir string `yaml:"componentDir"`
	// Defaults are merged into every component's configuration map.
	Defaults map[string]any `yaml:"defaults"`
	// Components maps component ID to its declaration.
	Components map[string]ComponentConfig `yaml:"components"`
}

// ComponentConfig declares a single component entry in the manifest.
type ComponentConfig struct {
	Enabled bool `yaml:"enabled"`
	// Factory names a registered in-process factory. Mutually exclusive
	// with Path.
	Factory string `yaml:"factory"`
	// Path points at a Go plugin shared object to load.
	Path string `yaml:"path"`
	// Order controls start sequencing; lower values start first.
	Order  int             `yaml:"order"`
	Config map[string]any  `yaml:"config"`
	Policy IsolationPolicy `yaml:"policy"`
}

// IsolationPolicy restricts which capabilities a component may use.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge combines two policies. Denials accumulate; an empty allow list on
// either side means the other side's allow list wins.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	merged := IsolationPolicy{}
	if len(p.AllowedCapabilities) == 0 {
		merged.AllowedCapabilities = append(merged.AllowedCapabilities, other.AllowedCapabilities...)
	} else if len(other.AllowedCapabilities) == 0 {
		merged.AllowedCapabilities = append(merged.AllowedCapabilities, p.AllowedCapabilities...)
	} else {
		allowed := make(map[Capability]struct{}, len(other.AllowedCapabilities))
		for _, capability := range other.AllowedCapabilities {
			allowed[capability] = struct{}{}
		}
		for _, capability := range p.AllowedCapabilities {
			if _, ok := allowed[capability]; ok {
				merged.AllowedCapabilities = append(merged.AllowedCapabilities, capability)
			}
		}
	}
	seen := make(map[Capability]struct{})
	for _, capability := range append(append([]Capability{}, p.DeniedCapabilities...), other.DeniedCapabilities...) {
		if _, ok := seen[capability]; ok {
			continue
		}
		seen[capability] = struct{}{}
		merged.DeniedCapabilities = append(merged.DeniedCapabilities, capability)
	}
	return merged
}

// LoadManagerConfig reads and validates a yaml manifest from disk.
func LoadManagerConfig(path string) (*ManagerConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("component: config path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("component: read config: %w", err)
	}
	var cfg ManagerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("component: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the manifest for structural mistakes.
func (c *ManagerConfig) Validate() error {
	for id, entry := range c.Components {
		if id == "" {
			return fmt.Errorf("component: empty component id in config")
		}
		if !entry.Enabled {
			continue
		}
		if entry.Factory == "" && entry.Path == "" {
			return fmt.Errorf("component: %s declares neither factory nor path", id)
		}
		if entry.Factory != "" && entry.Path != "" {
			return fmt.Errorf("component: %s declares both factory and path", id)
		}
	}
	return nil
}
