package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"go.uber.org/zap"
)

// Host owns the discovered tool inventory and dispatches capability calls.
// Mutations happen only during startup registration; execution paths take
// snapshot reads.
type Host struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *zap.Logger
	cfg    config.IConfig
}

func NewHost(cfg config.IConfig, logger *zap.Logger) *Host {
	return &Host{
		tools:  make(map[string]*Tool),
		logger: logger,
		cfg:    cfg,
	}
}

// Register adds a tool to the inventory, applying any configured safety
// overrides. (tool_id, capability) pairs must be unique.
func (h *Host) Register(t *Tool) error {
	if t.ID == "" {
		return fmt.Errorf("tool has no id")
	}
	if len(t.Capabilities) == 0 {
		return fmt.Errorf("tool %s declares no capabilities", t.ID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[t.ID]; exists {
		return fmt.Errorf("duplicate tool id: %s", t.ID)
	}

	if h.cfg != nil {
		if override, err := h.cfg.ToolSafety(t.ID); err == nil {
			t.Safety = mergeSafety(t.Safety, override)
		}
	}

	h.tools[t.ID] = t
	h.logger.Debug("Registered tool",
		zap.String("tool_id", t.ID),
		zap.Int("capabilities", len(t.Capabilities)))
	return nil
}

// RegisterAll registers every tool, failing fast on the first conflict.
func (h *Host) RegisterAll(toolset []*Tool) error {
	for _, t := range toolset {
		if err := h.Register(t); err != nil {
			return err
		}
	}
	h.logger.Info("Tool inventory loaded", zap.Int("tools", len(toolset)))
	return nil
}

func mergeSafety(base *SafetyRules, override *config.ToolSafety) *SafetyRules {
	if base == nil {
		base = &SafetyRules{}
	}
	if len(override.AllowedPaths) > 0 {
		base.AllowedPaths = override.AllowedPaths
	}
	if len(override.DeniedPaths) > 0 {
		base.DeniedPaths = append(base.DeniedPaths, override.DeniedPaths...)
	}
	if len(override.CommandDenylist) > 0 {
		base.CommandDenylist = append(base.CommandDenylist, override.CommandDenylist...)
	}
	if len(override.EnvDenylist) > 0 {
		base.EnvDenylist = append(base.EnvDenylist, override.EnvDenylist...)
	}
	if override.MaxOutputBytes > 0 {
		base.MaxOutputBytes = override.MaxOutputBytes
	}
	return base
}

// ListTools returns descriptors filtered by category and/or provider, sorted
// by tool id.
func (h *Host) ListTools(category string, provider shared.ToolProvider) []shared.ToolDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]shared.ToolDescriptor, 0, len(h.tools))
	for _, t := range h.tools {
		d := t.Descriptor()
		if category != "" && d.Category != category {
			continue
		}
		if provider != "" && d.Provider != provider {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ToolID < result[j].ToolID })
	return result
}

// DescribeTool returns the descriptor for one tool.
func (h *Host) DescribeTool(toolID string) (*shared.ToolDescriptor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, exists := h.tools[toolID]
	if !exists {
		return nil, shared.Errorf(shared.ErrToolNotFound, "tool not found: %s", toolID)
	}
	d := t.Descriptor()
	return &d, nil
}

// Execute resolves the capability, validates parameters, enforces safety and
// trust-tier constraints, and invokes the handler.
func (h *Host) Execute(ctx context.Context, toolID, capability string, params map[string]any, tier shared.TrustTier) (any, error) {
	h.mu.RLock()
	t, exists := h.tools[toolID]
	h.mu.RUnlock()
	if !exists {
		return nil, shared.Errorf(shared.ErrToolNotFound, "tool not found: %s", toolID)
	}

	cap, exists := t.Capabilities[capability]
	if !exists {
		return nil, shared.Errorf(shared.ErrCapabilityNotFound,
			"capability not found: %s on tool %s", capability, toolID)
	}

	if t.Safety != nil && t.Safety.MinTrustTier != "" {
		if tierRank(tier) < tierRank(t.Safety.MinTrustTier) {
			return nil, Failf("ACCESS_DENIED", "tool %s requires %s trust tier", toolID, t.Safety.MinTrustTier)
		}
	}

	if params == nil {
		params = map[string]any{}
	}
	var missing []string
	for _, name := range cap.Required {
		if _, present := params[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, shared.Errorf(shared.ErrBadInput,
			"missing required parameters: %s", strings.Join(missing, ", "))
	}

	result, err := cap.Handler(ctx, params)
	if err != nil {
		var fe *shared.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		h.logger.Error("Tool execution failed",
			zap.String("tool_id", toolID),
			zap.String("capability", capability),
			zap.Error(err))
		return nil, Failf("EXECUTION_ERROR", "tool %s.%s failed", toolID, capability)
	}
	return result, nil
}

// FindCapability reports whether (tool_id, capability) exists without
// executing anything; the route preview path uses it.
func (h *Host) FindCapability(toolID, capability string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, exists := h.tools[toolID]
	if !exists {
		return false
	}
	_, exists = t.Capabilities[capability]
	return exists
}

// Count returns the inventory size.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tools)
}
