package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

// IRuntimeAdapter translates the canonical envelope into an agent's native
// protocol and back. One adapter instance serves one registered agent.
type IRuntimeAdapter interface {
	// Call executes a synchronous capability call and returns the
	// capability-specific result. The context carries the per-call deadline;
	// expiry maps to TIMEOUT. Failures come back as *shared.Error.
	Call(ctx context.Context, envelope *shared.CanonicalEnvelope) (any, error)

	// CallStream executes a streaming call. The returned channel always
	// terminates with exactly one final event and then closes. Cancelling the
	// context closes the underlying transport.
	CallStream(ctx context.Context, envelope *shared.CanonicalEnvelope) (<-chan shared.StreamEvent, error)

	// ProbeHealth checks agent liveness.
	ProbeHealth(ctx context.Context) (shared.AgentStatus, error)

	// Describe returns the manifest the adapter was constructed against.
	Describe() *shared.AgentManifest
}

// New constructs the adapter matching the manifest's runtime kind.
func New(manifest *shared.AgentManifest, logger *zap.Logger) (IRuntimeAdapter, error) {
	switch manifest.RuntimeKind {
	case shared.RuntimeNative:
		return NewNativeAdapter(manifest, logger), nil
	case shared.RuntimeZeroStyle:
		return NewZeroStyleAdapter(manifest, logger), nil
	case shared.RuntimeCustomHTTP:
		return NewCustomHTTPAdapter(manifest, logger), nil
	default:
		return nil, fmt.Errorf("unsupported runtime kind: %s", manifest.RuntimeKind)
	}
}

// httpBase holds the plumbing shared by all HTTP-speaking adapters.
type httpBase struct {
	manifest *shared.AgentManifest
	client   *http.Client
	logger   *zap.Logger
}

func newHTTPBase(manifest *shared.AgentManifest, logger *zap.Logger) httpBase {
	return httpBase{
		manifest: manifest,
		client:   &http.Client{},
		logger:   logger.With(zap.String("agent_id", manifest.AgentID)),
	}
}

func (b *httpBase) Describe() *shared.AgentManifest {
	return b.manifest
}

// postJSON sends one JSON request and decodes the JSON response body.
// Transport failures are mapped to the canonical error kinds.
func (b *httpBase) postJSON(ctx context.Context, url string, trace shared.TraceContext, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return shared.Errorf(shared.ErrInternal, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, jsonReader(payload))
	if err != nil {
		return shared.Errorf(shared.ErrInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	setTraceHeaders(req, trace)

	resp, err := b.client.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return shared.Errorf(shared.ErrUpstream, "agent returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return shared.Errorf(shared.ErrUpstream, "agent rejected request with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return shared.Errorf(shared.ErrUpstream, "invalid response body from agent")
	}
	return nil
}

func setTraceHeaders(req *http.Request, trace shared.TraceContext) {
	req.Header.Set("X-Fabric-Trace-Id", trace.TraceID)
	req.Header.Set("X-Fabric-Span-Id", trace.SpanID)
}

// mapTransportError converts low-level HTTP client failures into canonical
// error kinds: deadline or cancellation → TIMEOUT, refused/unreachable → AGENT_OFFLINE,
// anything else → UPSTREAM_ERROR.
func mapTransportError(err error) *shared.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.NewError(shared.ErrTimeout, "call deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return shared.NewError(shared.ErrTimeout, "call cancelled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return shared.NewError(shared.ErrTimeout, "call deadline exceeded")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return shared.NewError(shared.ErrAgentOffline, "agent endpoint unreachable")
	}
	return shared.NewError(shared.ErrUpstream, "agent transport failure")
}

func jsonReader(payload []byte) io.Reader {
	return bytes.NewReader(payload)
}

// probeHTTP performs a GET health probe against the given URL.
func (b *httpBase) probeHTTP(ctx context.Context, url string) (shared.AgentStatus, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return shared.StatusUnknown, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return shared.StatusOffline, mapTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return shared.StatusOnline, nil
	case resp.StatusCode >= 500:
		return shared.StatusDegraded, nil
	default:
		return shared.StatusDegraded, nil
	}
}
