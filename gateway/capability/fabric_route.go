package capability

import (
	"context"

	"github.com/aetherpro/fabric/shared"
)

// fabricRoutePreview handles "fabric.route.preview": resolves the adapter and
// fallback list for (agent_id, capability) without executing anything.
func (c *FabricCapability) fabricRoutePreview(ctx context.Context, req *request) (any, error) {
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	capabilityName, err := requireString(req.args, "capability")
	if err != nil {
		return nil, err
	}

	agent, err := c.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	allowed := true
	reason := "ok"
	if _, ok := agent.Capability(capabilityName); !ok {
		allowed = false
		reason = "capability not declared by agent"
	} else if agent.Status != shared.StatusOnline && agent.Status != shared.StatusDegraded {
		allowed = false
		reason = "agent not routable in status " + string(agent.Status)
	}

	matches, err := c.registry.FindByCapability(capabilityName)
	if err != nil {
		return nil, err
	}
	fallbacks := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		if m.AgentID == agentID {
			continue
		}
		fallbacks = append(fallbacks, map[string]any{
			"agent_id": m.AgentID,
			"priority": m.Priority,
			"reason":   "same capability: " + capabilityName,
		})
	}

	return map[string]any{
		"selected_runtime": map[string]any{
			"transport": agent.Endpoint.Transport,
			"uri":       agent.Endpoint.URI,
			"adapter":   string(agent.RuntimeKind),
		},
		"policy": map[string]any{
			"allowed": allowed,
			"reason":  reason,
		},
		"fallbacks": fallbacks,
	}, nil
}
