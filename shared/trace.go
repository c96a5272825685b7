package shared

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TraceContext carries distributed-trace identifiers. It is the only field
// guaranteed to appear on every response, including error responses.
type TraceContext struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID *string `json:"parent_span_id"`
}

// NewTrace creates a trace context for one execution attempt. A caller-supplied
// trace id is adopted; the span id is always fresh.
func NewTrace(traceID string, parentSpanID *string) TraceContext {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return TraceContext{
		TraceID:      traceID,
		SpanID:       uuid.NewString(),
		ParentSpanID: parentSpanID,
	}
}

// Child derives a trace context for an outbound call, keeping the trace id and
// parenting the new span under the current one.
func (t TraceContext) Child() TraceContext {
	parent := t.SpanID
	return TraceContext{
		TraceID:      t.TraceID,
		SpanID:       uuid.NewString(),
		ParentSpanID: &parent,
	}
}

// ZapFields returns the trace identifiers as structured log fields.
func (t TraceContext) ZapFields() []zap.Field {
	return []zap.Field{
		zap.String("trace_id", t.TraceID),
		zap.String("span_id", t.SpanID),
	}
}

// TraceFromArgs adopts trace identifiers a caller embedded in its arguments.
func TraceFromArgs(args map[string]any) TraceContext {
	traceID := ""
	var parent *string
	if raw, ok := args["trace"].(map[string]any); ok {
		if v, ok := raw["trace_id"].(string); ok {
			traceID = v
		}
		if v, ok := raw["parent_span_id"].(string); ok && v != "" {
			parent = &v
		}
	}
	return NewTrace(traceID, parent)
}
