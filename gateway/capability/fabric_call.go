package capability

import (
	"context"
	"errors"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

const maxFallbackAttempts = 2

// fabricCall handles "fabric.call": agent-capability dispatch through the
// adapter layer, sync or streaming.
func (c *FabricCapability) fabricCall(ctx context.Context, req *request) *Outcome {
	fail := func(err error) *Outcome {
		req.logger.Warn("fabric.call failed", zap.Error(err))
		return &Outcome{Trace: req.trace, Response: shared.FailResponse(req.trace, err)}
	}

	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return fail(err)
	}
	capabilityName, err := requireString(req.args, "capability")
	if err != nil {
		return fail(err)
	}
	task, err := requireString(req.args, "task")
	if err != nil {
		return fail(err)
	}

	agent, capDesc, adapter, err := c.resolveRoute(agentID, capabilityName)
	if err != nil {
		return fail(err)
	}

	envelope := &shared.CanonicalEnvelope{
		Trace: req.trace,
		Auth:  req.auth,
		Target: shared.EnvelopeTarget{
			Kind:       shared.TargetAgent,
			ID:         agentID,
			Capability: capabilityName,
			TimeoutMs:  intArg(req.args, "timeout_ms", 0),
		},
		Input: shared.EnvelopeInput{
			Task:    task,
			Context: mapArg(req.args, "context"),
		},
		Response: shared.EnvelopeResponse{
			Stream: boolArg(req.args, "stream"),
			Format: "text",
		},
	}

	logger := req.logger.With(
		zap.String("agent_id", agentID),
		zap.String("capability", capabilityName))

	if envelope.Response.Stream {
		if capDesc.Streaming {
			return c.executeStream(ctx, envelope, capDesc, adapter, logger)
		}
		// Streaming requested on a non-streaming capability: degrade to a
		// sync call; the transport frames it as a single final event.
		logger.Info("Streaming degraded to sync: capability does not stream")
		outcome := c.executeSync(ctx, envelope, capDesc, adapter, agent.AgentID, logger)
		outcome.Degraded = true
		return outcome
	}

	return c.executeSync(ctx, envelope, capDesc, adapter, agent.AgentID, logger)
}

// resolveRoute looks up the agent, verifies the capability and routability,
// and selects the adapter.
func (c *FabricCapability) resolveRoute(agentID, capabilityName string) (*shared.AgentManifest, *shared.CapabilityDescriptor, adapterIface, error) {
	agent, err := c.registry.Get(agentID)
	if err != nil {
		return nil, nil, nil, err
	}
	capDesc, ok := agent.Capability(capabilityName)
	if !ok {
		return nil, nil, nil, shared.Errorf(shared.ErrCapabilityNotFound,
			"capability not found: %s on agent %s", capabilityName, agentID)
	}
	if agent.Status != shared.StatusOnline && agent.Status != shared.StatusDegraded {
		return nil, nil, nil, shared.Errorf(shared.ErrAgentOffline, "agent is not routable: %s", agentID)
	}
	adapter, err := c.registry.Adapter(agentID)
	if err != nil {
		return nil, nil, nil, err
	}
	return agent, capDesc, adapter, nil
}

type adapterIface interface {
	Call(ctx context.Context, envelope *shared.CanonicalEnvelope) (any, error)
	CallStream(ctx context.Context, envelope *shared.CanonicalEnvelope) (<-chan shared.StreamEvent, error)
}

func (c *FabricCapability) executeSync(ctx context.Context, envelope *shared.CanonicalEnvelope, capDesc *shared.CapabilityDescriptor, adapter adapterIface, primaryID string, logger *zap.Logger) *Outcome {
	callCtx, cancel := context.WithTimeout(ctx, envelope.Deadline(capDesc))
	defer cancel()

	result, err := adapter.Call(callCtx, envelope)
	if err == nil {
		return &Outcome{Trace: envelope.Trace, Response: shared.OKResponse(envelope.Trace, result)}
	}

	// Fallback chaining: on adapter-side offline/timeout, retry against the
	// next agents declaring the capability, carrying the same trace.
	if !retriable(err) {
		return &Outcome{Trace: envelope.Trace, Response: shared.FailResponse(envelope.Trace, err)}
	}

	attempted := []string{primaryID}
	matches, findErr := c.registry.FindByCapability(envelope.Target.Capability)
	if findErr != nil {
		matches = nil
	}
	lastErr := err
	for _, m := range matches {
		if m.AgentID == primaryID || len(attempted) > maxFallbackAttempts {
			continue
		}
		_, fbCap, fbAdapter, resolveErr := c.resolveRoute(m.AgentID, envelope.Target.Capability)
		if resolveErr != nil {
			continue
		}
		attempted = append(attempted, m.AgentID)
		logger.Info("Retrying on fallback agent", zap.String("fallback_agent_id", m.AgentID))

		fbEnvelope := *envelope
		fbEnvelope.Target.ID = m.AgentID

		fbCtx, fbCancel := context.WithTimeout(ctx, fbEnvelope.Deadline(fbCap))
		result, fbErr := fbAdapter.Call(fbCtx, &fbEnvelope)
		fbCancel()
		if fbErr == nil {
			logger.Info("Fallback call succeeded", zap.Strings("fallback_chain", attempted))
			return &Outcome{Trace: envelope.Trace, Response: shared.OKResponse(envelope.Trace, result)}
		}
		lastErr = fbErr
		if !retriable(fbErr) {
			break
		}
	}

	failure := shared.AsError(lastErr).WithDetail("fallbacks", attempted)
	return &Outcome{Trace: envelope.Trace, Response: shared.FailResponse(envelope.Trace, failure)}
}

func retriable(err error) bool {
	var fe *shared.Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Code == shared.ErrAgentOffline || fe.Code == shared.ErrTimeout
}

func (c *FabricCapability) executeStream(ctx context.Context, envelope *shared.CanonicalEnvelope, capDesc *shared.CapabilityDescriptor, adapter adapterIface, logger *zap.Logger) *Outcome {
	// The stream's lifetime is bounded by the per-call deadline; cancellation
	// of ctx (transport disconnect) propagates into the adapter.
	streamCtx, cancel := context.WithTimeout(ctx, envelope.Deadline(capDesc))

	events, err := adapter.CallStream(streamCtx, envelope)
	if err != nil {
		cancel()
		logger.Warn("Streaming call failed to start", zap.Error(err))
		return &Outcome{Trace: envelope.Trace, Response: shared.FailResponse(envelope.Trace, err)}
	}

	// Release the deadline timer when the stream drains.
	out := make(chan shared.StreamEvent)
	go func() {
		defer close(out)
		defer cancel()
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Debug("Streaming call started")
	return &Outcome{Trace: envelope.Trace, Events: out}
}
