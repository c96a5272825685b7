package shared

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders messages within an inbox for consumers that care; delivery
// order itself stays monotonic by stream entry id.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps a free string to a known priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Message is one agent-to-agent bus message.
type Message struct {
	MessageID     string         `json:"message_id"`
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent,omitempty"` // empty for topic publishes
	MessageType   string         `json:"message_type"`
	Payload       map[string]any `json:"payload"`
	Priority      Priority       `json:"priority"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	StreamEntryID string         `json:"stream_entry_id,omitempty"` // assigned by the stream store
}

// NewMessage builds a message with generated id, correlation id and timestamp.
func NewMessage(from, to, messageType string, payload map[string]any, priority Priority, replyTo string) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		MessageID:     "msg:" + uuid.NewString(),
		FromAgent:     from,
		ToAgent:       to,
		MessageType:   messageType,
		Payload:       payload,
		Priority:      priority,
		ReplyTo:       replyTo,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
	}
}
