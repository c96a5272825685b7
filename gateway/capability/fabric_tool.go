package capability

import (
	"context"
	"strings"

	"github.com/aetherpro/fabric/registry"
	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

// fabricToolList handles "fabric.tool.list": the built-in inventory plus
// every agent capability projected as an external tool.
func (c *FabricCapability) fabricToolList(ctx context.Context, req *request) (any, error) {
	category := stringArg(req.args, "category")
	provider := shared.ToolProvider(stringArg(req.args, "provider"))

	toolList := make([]map[string]any, 0)

	if provider == "" || provider == shared.ProviderBuiltin {
		for _, d := range c.tools.ListTools(category, shared.ProviderBuiltin) {
			toolList = append(toolList, map[string]any{
				"tool_id":      d.ToolID,
				"provider":     d.Provider,
				"category":     d.Category,
				"capabilities": d.Capabilities,
				"available":    true,
			})
		}
	}

	if provider == "" || provider == shared.ProviderExternal {
		agents, err := c.registry.List(registry.ListFilter{})
		if err != nil {
			return nil, err
		}
		for _, agent := range agents {
			agentCategory := "agent:" + agent.AgentID
			if category != "" && category != agentCategory {
				continue
			}
			for _, cap := range agent.Capabilities {
				toolList = append(toolList, map[string]any{
					"tool_id":    "agent." + agent.AgentID + "." + cap.Name,
					"provider":   shared.ProviderExternal,
					"category":   agentCategory,
					"agent_id":   agent.AgentID,
					"capability": cap.Name,
					"streaming":  cap.Streaming,
				})
			}
		}
	}

	return map[string]any{
		"tools": toolList,
		"count": len(toolList),
	}, nil
}

// fabricToolDescribe handles "fabric.tool.describe".
func (c *FabricCapability) fabricToolDescribe(ctx context.Context, req *request) (any, error) {
	toolID, err := requireString(req.args, "tool_id")
	if err != nil {
		return nil, err
	}

	// Agent-capability references describe through the registry.
	if strings.HasPrefix(toolID, "agent.") {
		parts := strings.SplitN(toolID, ".", 3)
		if len(parts) < 2 {
			return nil, shared.Errorf(shared.ErrToolNotFound, "tool not found: %s", toolID)
		}
		agent, err := c.registry.Get(parts[1])
		if err != nil {
			return nil, shared.Errorf(shared.ErrToolNotFound, "tool not found: %s", toolID)
		}
		caps := make([]map[string]any, 0, len(agent.Capabilities))
		for _, cap := range agent.Capabilities {
			caps = append(caps, map[string]any{
				"name":        cap.Name,
				"description": cap.Description,
				"streaming":   cap.Streaming,
			})
		}
		return map[string]any{
			"tool": map[string]any{
				"tool_id":  toolID,
				"provider": shared.ProviderExternal,
				"agent_id": agent.AgentID,
				"agent_info": map[string]any{
					"display_name": agent.DisplayName,
					"capabilities": caps,
				},
			},
		}, nil
	}

	descriptor, err := c.tools.DescribeTool(toolID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tool": descriptor}, nil
}

// fabricToolCall handles "fabric.tool.call": built-in dispatch, or delegation
// to fabric.call for agent.{id}.{capability} tool ids.
func (c *FabricCapability) fabricToolCall(ctx context.Context, req *request) (any, error) {
	toolID, err := requireString(req.args, "tool_id")
	if err != nil {
		return nil, err
	}
	capabilityName := stringArg(req.args, "capability")
	parameters := mapArg(req.args, "parameters")

	if strings.HasPrefix(toolID, "agent.") {
		parts := strings.SplitN(toolID, ".", 3)
		if len(parts) < 3 {
			return nil, shared.Errorf(shared.ErrToolNotFound, "tool not found: %s", toolID)
		}
		callReq := &request{
			trace: req.trace,
			auth:  req.auth,
			args: map[string]any{
				"agent_id":   parts[1],
				"capability": parts[2],
				"task":       stringArg(parameters, "task"),
				"context":    mapArg(parameters, "context"),
			},
			logger: req.logger,
		}
		outcome := c.fabricCall(ctx, callReq)
		if outcome.Response == nil || !outcome.Response.OK {
			if outcome.Response != nil && outcome.Response.Error != nil {
				return nil, outcome.Response.Error
			}
			return nil, shared.NewError(shared.ErrInternal, "agent delegation failed")
		}
		return outcome.Response.Result, nil
	}

	req.logger.Debug("Executing built-in tool",
		zap.String("tool_id", toolID),
		zap.String("capability", capabilityName))
	return c.tools.Execute(ctx, toolID, capabilityName, parameters, req.trustTier())
}

// fabricToolDirect handles "fabric.tool.{category}.{name}": the tool id and
// capability are encoded in the call name, parameters ride in the arguments.
func (c *FabricCapability) fabricToolDirect(ctx context.Context, name string, req *request) (any, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 4 {
		return nil, shared.Errorf(shared.ErrBadInput, "unknown tool: %s", name)
	}
	toolID := parts[2] + "." + parts[3]

	capabilityName := stringArg(req.args, "capability")
	if capabilityName == "" {
		// Single-capability tools dispatch without naming it.
		descriptor, err := c.tools.DescribeTool(toolID)
		if err != nil {
			return nil, shared.Errorf(shared.ErrBadInput, "unknown tool: %s", name)
		}
		if len(descriptor.Capabilities) == 1 {
			for cap := range descriptor.Capabilities {
				capabilityName = cap
			}
		} else {
			return nil, shared.Errorf(shared.ErrBadInput,
				"tool %s has multiple capabilities; capability is required", toolID)
		}
	}

	params := req.args
	if nested := mapArg(req.args, "parameters"); nested != nil {
		params = nested
	}

	req.logger.Debug("Executing direct tool call",
		zap.String("tool_id", toolID),
		zap.String("capability", capabilityName))
	return c.tools.Execute(ctx, toolID, capabilityName, params, req.trustTier())
}

// trustTier derives the caller's trust tier: local transports run local,
// everything else is org until passport auth lands.
func (r *request) trustTier() shared.TrustTier {
	if r.auth.Mode == shared.AuthModeNone {
		return shared.TierLocal
	}
	return shared.TierOrg
}
