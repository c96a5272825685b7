package runtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

var _ IRuntimeAdapter = (*CustomHTTPAdapter)(nil)

// CustomHTTPAdapter serves agents with a bespoke HTTP contract. The request
// and response shaping comes from the manifest's protocol table:
//
//	path             appended to the endpoint URI (default "")
//	capability_field request field carrying the capability name (default "capability")
//	task_field       request field carrying the task (default "task")
//	ok_field         response field holding the success flag (default "success")
//	result_field     response field holding the payload (default "result")
//	error_field      response field holding the error message (default "error")
//	health_path      probe path (default "/health")
type CustomHTTPAdapter struct {
	httpBase
}

func NewCustomHTTPAdapter(manifest *shared.AgentManifest, logger *zap.Logger) *CustomHTTPAdapter {
	return &CustomHTTPAdapter{httpBase: newHTTPBase(manifest, logger)}
}

func (a *CustomHTTPAdapter) proto(key, fallback string) string {
	if v, ok := a.manifest.Protocol[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (a *CustomHTTPAdapter) Call(ctx context.Context, envelope *shared.CanonicalEnvelope) (any, error) {
	body := map[string]any{
		a.proto("capability_field", "capability"): envelope.Target.Capability,
		a.proto("task_field", "task"):             envelope.Input.Task,
		"trace_id":                                envelope.Trace.TraceID,
	}
	if len(envelope.Input.Context) > 0 {
		body["context"] = envelope.Input.Context
	}
	for k, v := range envelope.Input.Parameters {
		body[k] = v
	}

	url := strings.TrimRight(a.manifest.Endpoint.URI, "/") + a.proto("path", "")

	var wire map[string]json.RawMessage
	if err := a.postJSON(ctx, url, envelope.Trace, body, &wire); err != nil {
		return nil, err
	}

	okField := a.proto("ok_field", "success")
	if raw, present := wire[okField]; present {
		var ok bool
		if err := json.Unmarshal(raw, &ok); err == nil && !ok {
			msg := "agent reported failure"
			if errRaw, has := wire[a.proto("error_field", "error")]; has {
				var s string
				if json.Unmarshal(errRaw, &s) == nil && s != "" {
					msg = s
				}
			}
			return nil, shared.NewError(shared.ErrUpstream, msg)
		}
	}

	if raw, present := wire[a.proto("result_field", "result")]; present {
		return raw, nil
	}
	// The body has no result field; hand back the whole body.
	return wire, nil
}

// CallStream degrades to a single terminal final; custom agents declare
// streaming capabilities at their own risk.
func (a *CustomHTTPAdapter) CallStream(ctx context.Context, envelope *shared.CanonicalEnvelope) (<-chan shared.StreamEvent, error) {
	result, err := a.Call(ctx, envelope)
	if err != nil {
		return syntheticStream(shared.FailResponse(envelope.Trace, err)), nil
	}
	return syntheticStream(shared.OKResponse(envelope.Trace, result)), nil
}

func (a *CustomHTTPAdapter) ProbeHealth(ctx context.Context) (shared.AgentStatus, error) {
	return a.probeHTTP(ctx, strings.TrimRight(a.manifest.Endpoint.URI, "/")+a.proto("health_path", "/health"))
}
