// Package tools hosts locally dispatched tool implementations. Tools are
// discovered once at startup; dispatch by name is a static mapping, so new
// tools require a restart.
package tools

import (
	"context"

	"github.com/aetherpro/fabric/shared"
)

// Handler executes one tool capability.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Capability binds a capability name to its dispatch method and handler.
type Capability struct {
	Method   string   // dispatch method name, surfaced in the descriptor
	Required []string // parameter names that must be present
	Handler  Handler
}

// SafetyRules are per-tool execution constraints. The zero value means
// unconstrained.
type SafetyRules struct {
	AllowedPaths    []string // path prefixes file tools may touch; empty = any
	DeniedPaths     []string // path prefixes always refused
	CommandDenylist []string // substring patterns refused by system tools
	EnvDenylist     []string // variable name patterns hidden from env tools
	MaxOutputBytes  int      // cap on returned payload size; 0 = default
	MinTrustTier    shared.TrustTier
}

// Tool is one pluggable tool: an id, a capability table, and optional safety
// constraints.
type Tool struct {
	ID           string
	Category     string
	Description  string
	Provider     shared.ToolProvider
	Capabilities map[string]Capability
	Safety       *SafetyRules
}

// Descriptor projects the tool into its wire form.
func (t *Tool) Descriptor() shared.ToolDescriptor {
	caps := make(map[string]string, len(t.Capabilities))
	for name, c := range t.Capabilities {
		caps[name] = c.Method
	}
	provider := t.Provider
	if provider == "" {
		provider = shared.ProviderBuiltin
	}
	return shared.ToolDescriptor{
		ToolID:       t.ID,
		Category:     t.Category,
		Description:  t.Description,
		Capabilities: caps,
		Provider:     provider,
	}
}

// Failf builds a TOOL_EXECUTION_ERROR carrying a tool-defined sub-code.
func Failf(toolCode, format string, args ...any) *shared.Error {
	return shared.Errorf(shared.ErrToolExecution, format, args...).
		WithDetail("tool_code", toolCode)
}

// tierRank orders trust tiers by privilege: local callers are the most
// trusted.
func tierRank(t shared.TrustTier) int {
	switch t {
	case shared.TierLocal:
		return 2
	case shared.TierOrg:
		return 1
	default:
		return 0
	}
}
