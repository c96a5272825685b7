package runtime

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/aetherpro/fabric/shared"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

var _ IRuntimeAdapter = (*NativeAdapter)(nil)

// NativeAdapter speaks the gateway's own wire protocol: a capability call is
// POST {name, arguments} and the response is the {ok, result|error} envelope.
// Streaming rides an SSE subscription against the agent's stream endpoint.
type NativeAdapter struct {
	httpBase
}

func NewNativeAdapter(manifest *shared.AgentManifest, logger *zap.Logger) *NativeAdapter {
	return &NativeAdapter{httpBase: newHTTPBase(manifest, logger)}
}

// nativeWire is the response shape native agents return.
type nativeWire struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *shared.Error   `json:"error"`
}

func (a *NativeAdapter) Call(ctx context.Context, envelope *shared.CanonicalEnvelope) (any, error) {
	body := map[string]any{
		"name":      envelope.Target.Capability,
		"arguments": envelope.Input,
	}

	var wire nativeWire
	if err := a.postJSON(ctx, a.manifest.Endpoint.URI, envelope.Trace, body, &wire); err != nil {
		return nil, err
	}
	if !wire.OK {
		return nil, upstreamError(wire.Error)
	}
	return wire.Result, nil
}

func (a *NativeAdapter) CallStream(ctx context.Context, envelope *shared.CanonicalEnvelope) (<-chan shared.StreamEvent, error) {
	streamURL, err := a.streamURL(envelope)
	if err != nil {
		return nil, shared.NewError(shared.ErrInternal, "invalid agent endpoint")
	}

	client := sse.NewClient(streamURL)
	client.Connection = a.client
	client.ReconnectStrategy = &backoff.StopBackOff{} // one shot; a drop ends the stream
	client.Headers["X-Fabric-Trace-Id"] = envelope.Trace.TraceID
	client.Headers["X-Fabric-Span-Id"] = envelope.Trace.SpanID

	raw := make(chan shared.StreamEvent)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(raw)
		defer cancel()
		err := client.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			var ev shared.StreamEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				a.logger.Warn("Dropping malformed stream event", zap.Error(err))
				return
			}
			select {
			case raw <- ev:
			case <-streamCtx.Done():
			}
			if ev.IsFinal() {
				cancel() // close the SSE connection once the stream terminates
			}
		})
		if err != nil && streamCtx.Err() == nil {
			a.logger.Debug("SSE subscription ended", zap.Error(err))
		}
	}()

	return normalizeStream(ctx, envelope.Trace, raw), nil
}

// streamURL builds the SSE endpoint: {uri}/stream with the call encoded in
// query parameters.
func (a *NativeAdapter) streamURL(envelope *shared.CanonicalEnvelope) (string, error) {
	u, err := url.Parse(a.manifest.Endpoint.URI)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"

	args, err := json.Marshal(envelope.Input)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("name", envelope.Target.Capability)
	q.Set("arguments", string(args))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *NativeAdapter) ProbeHealth(ctx context.Context) (shared.AgentStatus, error) {
	return a.probeHTTP(ctx, strings.TrimRight(a.manifest.Endpoint.URI, "/")+"/health")
}

// upstreamError sanitizes an agent-reported error into a canonical one,
// keeping the code when it is already canonical.
func upstreamError(e *shared.Error) *shared.Error {
	if e == nil {
		return shared.NewError(shared.ErrUpstream, "agent reported failure without error object")
	}
	switch e.Code {
	case shared.ErrBadInput, shared.ErrTimeout, shared.ErrCapabilityNotFound,
		shared.ErrAgentOffline, shared.ErrRateLimited, shared.ErrUpstream:
		return e
	default:
		return &shared.Error{
			Code:    shared.ErrUpstream,
			Message: e.Message,
			Details: map[string]any{"upstream_code": string(e.Code)},
		}
	}
}
