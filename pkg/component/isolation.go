package component

import "fmt"

// IsolationStrategy enforces capability policies around component lifecycles.
type IsolationStrategy interface {
	// Validate checks whether the component's declared capabilities satisfy
	// the policy. It runs at registration time.
	Validate(info Info, policy IsolationPolicy) error
	// Prepare runs immediately before Start.
	Prepare(info Info, ctx *ExecutionContext) error
	// Cleanup runs after Stop.
	Cleanup(info Info, ctx *ExecutionContext) error
}

// NoopIsolationStrategy validates policies but performs no runtime sandboxing.
type NoopIsolationStrategy struct{}

func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	denied := make(map[Capability]struct{}, len(policy.DeniedCapabilities))
	for _, capability := range policy.DeniedCapabilities {
		denied[capability] = struct{}{}
	}
	var allowed map[Capability]struct{}
	if len(policy.AllowedCapabilities) > 0 {
		allowed = make(map[Capability]struct{}, len(policy.AllowedCapabilities))
		for _, capability := range policy.AllowedCapabilities {
			allowed[capability] = struct{}{}
		}
	}
	for _, capability := range info.Capabilities {
		if _, ok := denied[capability]; ok {
			return fmt.Errorf("component: %s requires denied capability %q", info.ID, capability)
		}
		if allowed != nil {
			if _, ok := allowed[capability]; !ok {
				return fmt.Errorf("component: %s requires capability %q outside the allow list", info.ID, capability)
			}
		}
	}
	return nil
}

func (NoopIsolationStrategy) Prepare(Info, *ExecutionContext) error { return nil }

func (NoopIsolationStrategy) Cleanup(Info, *ExecutionContext) error { return nil }

// EnsurePolicy fills a zero-valued policy with the given default.
func EnsurePolicy(policy, fallback IsolationPolicy) IsolationPolicy {
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return fallback
	}
	return policy
}
