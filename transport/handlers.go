package transport

import (
	"encoding/json"
	"net/http"

	"github.com/aetherpro/fabric/bus"
	"github.com/aetherpro/fabric/gateway/capability"
	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"go.uber.org/zap"
)

// HTTPFront exposes the pipeline over HTTP: POST /mcp/call, GET /health, and
// the REST convenience endpoints.
type HTTPFront struct {
	pipeline *capability.FabricCapability
	auth     *Authenticator
	bus      *bus.Bus
	cfg      config.IConfig
	logger   *zap.Logger
	metrics  *Metrics
}

func NewHTTPFront(pipeline *capability.FabricCapability, auth *Authenticator, b *bus.Bus, cfg config.IConfig, logger *zap.Logger) *HTTPFront {
	return &HTTPFront{
		pipeline: pipeline,
		auth:     auth,
		bus:      b,
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(),
	}
}

// RegisterHandlers attaches all HTTP routes to the mux.
func (f *HTTPFront) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/call", f.handleMCPCall)
	mux.HandleFunc("/health", f.handleHealth)
	f.registerRESTHandlers(mux)
}

type mcpCallBody struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (f *HTTPFront) handleMCPCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body mcpCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		trace := shared.NewTrace("", nil)
		f.writeJSON(w, http.StatusOK, shared.FailResponse(trace,
			shared.NewError(shared.ErrBadInput, "malformed request body")))
		return
	}

	outcome := f.authenticateAndHandle(w, r, body.Name, body.Arguments)
	if outcome == nil {
		return // auth failure already written
	}

	if outcome.Events != nil {
		f.writeEventStream(w, r, outcome)
		f.metrics.RecordCall(body.Name, true)
		return
	}

	// A degraded stream request still gets event-stream framing: one
	// synthetic terminal final event.
	if outcome.Degraded && boolArg(body.Arguments, "stream") {
		f.writeSingleEvent(w, shared.FinalEvent(outcome.Response))
		f.metrics.RecordCall(body.Name, outcome.Response.OK)
		return
	}

	f.metrics.RecordCall(body.Name, outcome.Response.OK)
	f.writeJSON(w, http.StatusOK, outcome.Response)
}

// authenticateAndHandle runs auth and the pipeline; on auth failure it writes
// the 401 itself and returns a nil outcome.
func (f *HTTPFront) authenticateAndHandle(w http.ResponseWriter, r *http.Request, name string, args map[string]any) *capability.Outcome {
	auth, err := f.auth.Authenticate(BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		trace := shared.NewTrace("", nil)
		f.logger.Warn("Authentication failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("trace_id", trace.TraceID),
			zap.Error(err))
		f.metrics.RecordCall(name, false)
		f.writeJSON(w, http.StatusUnauthorized, shared.FailResponse(trace, err))
		return nil
	}
	if args != nil {
		auth = MergePassport(auth, args)
	}
	return f.pipeline.Handle(r.Context(), name, args, auth)
}

func (f *HTTPFront) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := f.cfg.ServerVersion()
	if err != nil {
		version = "unknown"
	}
	f.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
	})
}

func (f *HTTPFront) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		f.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeEventStream frames the outcome's events as text/event-stream, one
// "data: <json>\n\n" per event, flushing as they arrive. The request context
// cancels the upstream adapter when the client disconnects.
func (f *HTTPFront) writeEventStream(w http.ResponseWriter, r *http.Request, outcome *capability.Outcome) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for ev := range outcome.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			f.logger.Error("Failed to encode stream event", zap.Error(err))
			continue
		}
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			// Client went away; the context cancellation unwinds the adapter.
			f.logger.Debug("Stream write failed, client disconnected", zap.Error(err))
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func (f *HTTPFront) writeSingleEvent(w http.ResponseWriter, ev shared.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	payload, _ := json.Marshal(ev)
	w.Write([]byte("data: " + string(payload) + "\n\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func boolArg(args map[string]any, key string) bool {
	if args == nil {
		return false
	}
	v, _ := args[key].(bool)
	return v
}
