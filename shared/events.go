package shared

// EventKind enumerates streamed event types. The terminal event of every
// stream is EventFinal; nothing follows it.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventToken    EventKind = "token"
	EventToolCall EventKind = "tool_call"
	EventProgress EventKind = "progress"
	EventFinal    EventKind = "final"
)

// StreamEvent is one element of a streamed response sequence.
type StreamEvent struct {
	Event EventKind      `json:"event"`
	Data  map[string]any `json:"data"`
}

// IsFinal reports whether the event terminates its stream.
func (e StreamEvent) IsFinal() bool {
	return e.Event == EventFinal
}

// FinalEvent wraps a canonical response envelope as the terminal stream event.
func FinalEvent(resp *Response) StreamEvent {
	data := map[string]any{
		"ok":    resp.OK,
		"trace": resp.Trace,
	}
	if resp.OK {
		data["result"] = resp.Result
	} else {
		data["error"] = resp.Error
	}
	return StreamEvent{Event: EventFinal, Data: data}
}

// FinalErrorEvent is the terminal event for a stream that failed mid-flight.
func FinalErrorEvent(trace TraceContext, err error) StreamEvent {
	return FinalEvent(FailResponse(trace, err))
}
