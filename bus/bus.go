// Package bus implements async agent-to-agent messaging on an ordered stream
// store: per-agent inbox streams with consumer groups for at-least-once
// delivery, plus fire-and-forget topic pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	inboxMaxLen      = 10000
	defaultRecvCount = 10
)

// Bus is a shared, connection-pooled client to the stream store. Concurrent
// use is safe.
type Bus struct {
	client     redis.UniversalClient
	logger     *zap.Logger
	visibility time.Duration
	consumer   string
}

// New dials the store at the given URL.
func New(redisURL string, visibility time.Duration, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), visibility, logger), nil
}

// NewWithClient wraps an existing client; tests use this with a fake store.
func NewWithClient(client redis.UniversalClient, visibility time.Duration, logger *zap.Logger) *Bus {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	host, _ := os.Hostname()
	return &Bus{
		client:     client,
		logger:     logger,
		visibility: visibility,
		consumer:   fmt.Sprintf("%s_%d", host, os.Getpid()),
	}
}

func inboxKey(agentID string) string {
	return "agent:" + agentID + ":inbox"
}

// DefaultGroup is the consumer group used when a receive names none.
func DefaultGroup(agentID string) string {
	return agentID + "_workers"
}

func busError(op string, err error, logger *zap.Logger) *shared.Error {
	logger.Error("Message bus operation failed", zap.String("op", op), zap.Error(err))
	return shared.NewError(shared.ErrBusUnavailable, "message bus unavailable")
}

// Ping checks store connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return busError("ping", err, b.logger)
	}
	return nil
}

// SendReceipt is the result of a successful send.
type SendReceipt struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	StreamID  string    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Send appends the message to the recipient's inbox stream and fires a
// real-time notification for live subscribers.
func (b *Bus) Send(ctx context.Context, msg *shared.Message) (*SendReceipt, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, shared.NewError(shared.ErrInternal, "cannot encode message")
	}

	streamID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: inboxKey(msg.ToAgent),
		MaxLen: inboxMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return nil, busError("send", err, b.logger)
	}
	msg.StreamEntryID = streamID

	notification, _ := json.Marshal(map[string]any{
		"from":       msg.FromAgent,
		"type":       msg.MessageType,
		"priority":   msg.Priority,
		"message_id": msg.MessageID,
	})
	if err := b.client.Publish(ctx, "agent."+msg.ToAgent+".new_message", notification).Err(); err != nil {
		// Notification is best effort; the stream entry is already durable.
		b.logger.Debug("New-message notification failed", zap.String("to_agent", msg.ToAgent), zap.Error(err))
	}

	b.logger.Debug("Message sent",
		zap.String("message_id", msg.MessageID),
		zap.String("to_agent", msg.ToAgent),
		zap.String("stream_id", streamID))

	return &SendReceipt{
		MessageID: msg.MessageID,
		Status:    "queued",
		StreamID:  streamID,
		Timestamp: msg.Timestamp,
	}, nil
}

// ensureGroup creates the consumer group at stream start if it does not
// exist yet; the stream is created alongside.
func (b *Bus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Receive reads up to count messages for the agent through the consumer
// group. Entries pending past the visibility horizon are claimed first
// (redelivery), then fresh entries are read, blocking up to block for new
// arrivals when nothing is pending.
func (b *Bus) Receive(ctx context.Context, agentID string, count int, block time.Duration, group string) ([]*shared.Message, error) {
	if count <= 0 {
		count = defaultRecvCount
	}
	if group == "" {
		group = DefaultGroup(agentID)
	}
	stream := inboxKey(agentID)

	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return nil, busError("receive", err, b.logger)
	}

	messages := make([]*shared.Message, 0, count)

	// Claim stale pending entries from dead consumers in the same group.
	claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: b.consumer,
		MinIdle:  b.visibility,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, busError("receive", err, b.logger)
	}
	for _, entry := range claimed {
		if msg := b.decodeEntry(entry, group); msg != nil {
			messages = append(messages, msg)
		}
	}
	if len(messages) >= count {
		return messages[:count], nil
	}

	readBlock := block
	if readBlock <= 0 {
		readBlock = time.Millisecond // effectively non-blocking
	}
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: b.consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count - len(messages)),
		Block:    readBlock,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, busError("receive", err, b.logger)
	}
	for _, s := range streams {
		for _, entry := range s.Messages {
			if msg := b.decodeEntry(entry, group); msg != nil {
				messages = append(messages, msg)
			}
		}
	}

	return messages, nil
}

func (b *Bus) decodeEntry(entry redis.XMessage, group string) *shared.Message {
	raw, ok := entry.Values["data"].(string)
	if !ok {
		b.logger.Warn("Inbox entry without data field", zap.String("stream_id", entry.ID))
		return nil
	}
	var msg shared.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		b.logger.Warn("Undecodable inbox entry", zap.String("stream_id", entry.ID), zap.Error(err))
		return nil
	}
	msg.StreamEntryID = entry.ID
	return &msg
}

// AckResult reports one acknowledgment outcome.
type AckResult struct {
	ID    string `json:"id"`
	Acked bool   `json:"acked"`
}

// Acknowledge marks stream entries as processed; after ack they are not
// redelivered. Acking an already-acked id succeeds without side effect.
func (b *Bus) Acknowledge(ctx context.Context, agentID string, entryIDs []string, group string) ([]AckResult, error) {
	if group == "" {
		group = DefaultGroup(agentID)
	}
	stream := inboxKey(agentID)

	results := make([]AckResult, 0, len(entryIDs))
	for _, id := range entryIDs {
		if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
			return nil, busError("acknowledge", err, b.logger)
		}
		results = append(results, AckResult{ID: id, Acked: true})
	}
	return results, nil
}

// Publish broadcasts to all current subscribers of the topic; nothing is
// persisted. Returns the recipient count.
func (b *Bus) Publish(ctx context.Context, topic string, data map[string]any, fromAgent string) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"data":      data,
		"from":      fromAgent,
		"topic":     topic,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return 0, shared.NewError(shared.ErrInternal, "cannot encode publish payload")
	}
	recipients, err := b.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, busError("publish", err, b.logger)
	}
	return recipients, nil
}

// QueueStatus reports pending depth and stream details for one inbox.
func (b *Bus) QueueStatus(ctx context.Context, agentID string) (map[string]any, error) {
	stream := inboxKey(agentID)

	depth, err := b.client.XLen(ctx, stream).Result()
	if err != nil && err != redis.Nil {
		return nil, busError("queue_status", err, b.logger)
	}

	streamInfo := map[string]any{}
	if info, err := b.client.XInfoStream(ctx, stream).Result(); err == nil {
		streamInfo["length"] = info.Length
		streamInfo["last_generated_id"] = info.LastGeneratedID
		streamInfo["groups"] = info.Groups
	}
	if groups, err := b.client.XInfoGroups(ctx, stream).Result(); err == nil {
		groupInfos := make([]map[string]any, 0, len(groups))
		for _, g := range groups {
			groupInfos = append(groupInfos, map[string]any{
				"name":      g.Name,
				"consumers": g.Consumers,
				"pending":   g.Pending,
			})
		}
		streamInfo["group_details"] = groupInfos
	}

	return map[string]any{
		"agent_id":    agentID,
		"queue_depth": depth,
		"stream_info": streamInfo,
	}, nil
}

// ListTopics returns currently active pub/sub channels.
func (b *Bus) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := b.client.PubSubChannels(ctx, "*").Result()
	if err != nil {
		return nil, busError("list_topics", err, b.logger)
	}
	return topics, nil
}

// Close releases the store connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
