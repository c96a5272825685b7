package capability

import (
	"context"
	"time"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

func (c *FabricCapability) requireBus() error {
	if c.bus == nil {
		return shared.NewError(shared.ErrBusUnavailable, "message bus is not configured")
	}
	return nil
}

// fabricMessageSend handles "fabric.message.send".
func (c *FabricCapability) fabricMessageSend(ctx context.Context, req *request) (any, error) {
	if err := c.requireBus(); err != nil {
		return nil, err
	}
	toAgent, err := requireString(req.args, "to_agent")
	if err != nil {
		return nil, err
	}
	fromAgent, err := requireString(req.args, "from_agent")
	if err != nil {
		return nil, err
	}
	messageType, err := requireString(req.args, "message_type")
	if err != nil {
		return nil, err
	}
	payload := mapArg(req.args, "payload")
	if payload == nil {
		return nil, shared.NewError(shared.ErrBadInput, "payload is required")
	}

	msg := shared.NewMessage(
		fromAgent,
		toAgent,
		messageType,
		payload,
		shared.ParsePriority(stringArg(req.args, "priority")),
		stringArg(req.args, "reply_to"),
	)

	receipt, err := c.bus.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	req.logger.Debug("Message queued",
		zap.String("message_id", receipt.MessageID),
		zap.String("to_agent", toAgent))
	return map[string]any{
		"message_id": receipt.MessageID,
		"status":     receipt.Status,
		"stream_id":  receipt.StreamID,
		"timestamp":  receipt.Timestamp,
	}, nil
}

// fabricMessageReceive handles "fabric.message.receive".
func (c *FabricCapability) fabricMessageReceive(ctx context.Context, req *request) (any, error) {
	if err := c.requireBus(); err != nil {
		return nil, err
	}
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	count := intArg(req.args, "count", 10)
	block := time.Duration(intArg(req.args, "block_ms", 5000)) * time.Millisecond
	group := stringArg(req.args, "consumer_group")

	messages, err := c.bus.Receive(ctx, agentID, count, block, group)
	if err != nil {
		return nil, err
	}

	// An agent polling its inbox is alive; refresh its heartbeat if it is
	// registered here.
	if err := c.registry.Heartbeat(agentID); err == nil {
		req.logger.Debug("Heartbeat refreshed on receive", zap.String("agent_id", agentID))
	}

	return map[string]any{
		"messages": messages,
		"count":    len(messages),
		"agent_id": agentID,
	}, nil
}

// fabricMessageAcknowledge handles "fabric.message.acknowledge". The stream
// entry id is the authoritative acknowledgment key.
func (c *FabricCapability) fabricMessageAcknowledge(ctx context.Context, req *request) (any, error) {
	if err := c.requireBus(); err != nil {
		return nil, err
	}
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	rawIDs, ok := req.args["message_ids"].([]any)
	if !ok || len(rawIDs) == 0 {
		return nil, shared.NewError(shared.ErrBadInput, "message_ids is required")
	}
	ids := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, ok := raw.(string)
		if !ok {
			return nil, shared.NewError(shared.ErrBadInput, "message_ids must be strings")
		}
		ids = append(ids, id)
	}

	acked, err := c.bus.Acknowledge(ctx, agentID, ids, stringArg(req.args, "consumer_group"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"acknowledged": acked}, nil
}

// fabricMessagePublish handles "fabric.message.publish".
func (c *FabricCapability) fabricMessagePublish(ctx context.Context, req *request) (any, error) {
	if err := c.requireBus(); err != nil {
		return nil, err
	}
	topic, err := requireString(req.args, "topic")
	if err != nil {
		return nil, err
	}
	fromAgent, err := requireString(req.args, "from_agent")
	if err != nil {
		return nil, err
	}
	message := mapArg(req.args, "message")
	if message == nil {
		return nil, shared.NewError(shared.ErrBadInput, "message is required")
	}

	recipients, err := c.bus.Publish(ctx, topic, message, fromAgent)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"topic":      topic,
		"recipients": recipients,
		"published":  true,
	}, nil
}

// fabricMessageQueueStatus handles "fabric.message.queue_status".
func (c *FabricCapability) fabricMessageQueueStatus(ctx context.Context, req *request) (any, error) {
	if err := c.requireBus(); err != nil {
		return nil, err
	}
	agentID, err := requireString(req.args, "agent_id")
	if err != nil {
		return nil, err
	}
	return c.bus.QueueStatus(ctx, agentID)
}
