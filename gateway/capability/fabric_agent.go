package capability

import (
	"context"
	"encoding/json"

	"github.com/aetherpro/fabric/registry"
	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

// fabricAgentList handles "fabric.agent.list" with an optional
// {capability, tag, status} filter.
func (c *FabricCapability) fabricAgentList(ctx context.Context, req *request) (any, error) {
	filterArgs := mapArg(req.args, "filter")
	filter := registry.ListFilter{
		Capability: stringArg(filterArgs, "capability"),
		Tag:        stringArg(filterArgs, "tag"),
		Status:     shared.AgentStatus(stringArg(filterArgs, "status")),
	}

	agents, err := c.registry.List(filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agents": agents}, nil
}

// fabricAgentDescribe handles "fabric.agent.describe".
func (c *FabricCapability) fabricAgentDescribe(ctx context.Context, req *request) (any, error) {
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	agent, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent": agent}, nil
}

// fabricAgentRegister handles "fabric.agent.register": explicit dynamic
// registration with a manifest document in the arguments.
func (c *FabricCapability) fabricAgentRegister(ctx context.Context, req *request) (any, error) {
	rawManifest := mapArg(req.args, "manifest")
	if rawManifest == nil {
		// Accept the manifest fields inline as well.
		rawManifest = req.args
	}

	encoded, err := json.Marshal(rawManifest)
	if err != nil {
		return nil, shared.NewError(shared.ErrBadInput, "manifest is not an object")
	}
	var manifest shared.AgentManifest
	if err := json.Unmarshal(encoded, &manifest); err != nil {
		return nil, shared.NewError(shared.ErrBadInput, "invalid manifest document")
	}
	if manifest.AgentID == "" {
		return nil, shared.NewError(shared.ErrBadInput, "agent_id is required")
	}

	if err := c.registry.Register(&manifest); err != nil {
		return nil, err
	}
	req.logger.Info("Agent registered via API", zap.String("agent_id", manifest.AgentID))
	return map[string]any{
		"registered": true,
		"agent_id":   manifest.AgentID,
	}, nil
}

// fabricAgentDeregister handles "fabric.agent.deregister".
func (c *FabricCapability) fabricAgentDeregister(ctx context.Context, req *request) (any, error) {
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	if err := c.registry.Deregister(agentID); err != nil {
		return nil, err
	}
	req.logger.Info("Agent deregistered via API", zap.String("agent_id", agentID))
	return map[string]any{
		"deregistered": true,
		"agent_id":     agentID,
	}, nil
}
