package runtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

var _ IRuntimeAdapter = (*ZeroStyleAdapter)(nil)

// ZeroStyleAdapter translates the canonical envelope into the agent-zero RFC
// request shape ({action_name, params, trace_id}) and maps the foreign
// response back into the canonical one.
type ZeroStyleAdapter struct {
	httpBase
}

func NewZeroStyleAdapter(manifest *shared.AgentManifest, logger *zap.Logger) *ZeroStyleAdapter {
	return &ZeroStyleAdapter{httpBase: newHTTPBase(manifest, logger)}
}

// zeroWire is the foreign protocol's response shape.
type zeroWire struct {
	Status string          `json:"status"` // "ok" or "error"
	Output json.RawMessage `json:"output"`
	Error  *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *ZeroStyleAdapter) Call(ctx context.Context, envelope *shared.CanonicalEnvelope) (any, error) {
	params := map[string]any{
		"task":    envelope.Input.Task,
		"context": envelope.Input.Context,
	}
	for k, v := range envelope.Input.Parameters {
		params[k] = v
	}
	body := map[string]any{
		"action_name": envelope.Target.Capability,
		"params":      params,
		"trace_id":    envelope.Trace.TraceID,
	}

	var wire zeroWire
	if err := a.postJSON(ctx, a.manifest.Endpoint.URI, envelope.Trace, body, &wire); err != nil {
		return nil, err
	}
	if wire.Status != "ok" {
		msg := "agent reported failure"
		details := map[string]any{}
		if wire.Error != nil {
			msg = wire.Error.Message
			details["upstream_code"] = wire.Error.Kind
		}
		return nil, &shared.Error{Code: shared.ErrUpstream, Message: msg, Details: details}
	}
	return wire.Output, nil
}

// CallStream synthesizes streaming for a protocol that has none: a status
// event followed by the terminal final carrying the sync result.
func (a *ZeroStyleAdapter) CallStream(ctx context.Context, envelope *shared.CanonicalEnvelope) (<-chan shared.StreamEvent, error) {
	out := make(chan shared.StreamEvent, 2)
	go func() {
		defer close(out)
		status := shared.StreamEvent{
			Event: shared.EventStatus,
			Data:  map[string]any{"status": "running", "trace": envelope.Trace},
		}
		select {
		case out <- status:
		case <-ctx.Done():
			out <- shared.FinalErrorEvent(envelope.Trace, ctxError(ctx))
			return
		}

		result, err := a.Call(ctx, envelope)
		if err != nil {
			out <- shared.FinalErrorEvent(envelope.Trace, err)
			return
		}
		out <- shared.FinalEvent(shared.OKResponse(envelope.Trace, result))
	}()
	return out, nil
}

func (a *ZeroStyleAdapter) ProbeHealth(ctx context.Context) (shared.AgentStatus, error) {
	return a.probeHTTP(ctx, strings.TrimRight(a.manifest.Endpoint.URI, "/")+"/healthz")
}
