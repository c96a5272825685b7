package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aetherpro/fabric/shared"
)

// registerRESTHandlers wires the convenience endpoints: thin wrappers that
// synthesize the equivalent fabric.* call and return its result.
func (f *HTTPFront) registerRESTHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/mcp/list_agents", f.restWrapper(http.MethodGet, "fabric.agent.list",
		func(r *http.Request) map[string]any {
			filter := map[string]any{}
			for _, key := range []string{"capability", "tag", "status"} {
				if v := r.URL.Query().Get(key); v != "" {
					filter[key] = v
				}
			}
			if len(filter) == 0 {
				return map[string]any{}
			}
			return map[string]any{"filter": filter}
		}))

	mux.HandleFunc("/mcp/register_agent", f.restWrapper(http.MethodPost, "fabric.agent.register",
		func(r *http.Request) map[string]any {
			var manifest map[string]any
			if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
				return nil
			}
			return map[string]any{"manifest": manifest}
		}))

	mux.HandleFunc("/mcp/agent/", f.restWrapper(http.MethodGet, "fabric.agent.describe",
		func(r *http.Request) map[string]any {
			agentID := strings.TrimPrefix(r.URL.Path, "/mcp/agent/")
			if agentID == "" {
				return nil
			}
			return map[string]any{"agent_id": agentID}
		}))

	mux.HandleFunc("/mcp/list_tools", f.restWrapper(http.MethodGet, "fabric.tool.list",
		func(r *http.Request) map[string]any {
			args := map[string]any{}
			if v := r.URL.Query().Get("category"); v != "" {
				args["category"] = v
			}
			if v := r.URL.Query().Get("provider"); v != "" {
				args["provider"] = v
			}
			return args
		}))

	mux.HandleFunc("/mcp/list_topics", f.handleListTopics)
	mux.HandleFunc("/mcp/metrics", f.handleMetrics)
}

// restWrapper adapts one REST endpoint onto a fabric.* pipeline call.
func (f *HTTPFront) restWrapper(method, name string, buildArgs func(*http.Request) map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		args := buildArgs(r)
		if args == nil {
			trace := shared.NewTrace("", nil)
			f.writeJSON(w, http.StatusOK, shared.FailResponse(trace,
				shared.NewError(shared.ErrBadInput, "malformed request")))
			return
		}
		outcome := f.authenticateAndHandle(w, r, name, args)
		if outcome == nil {
			return
		}
		f.metrics.RecordCall(name, outcome.Response.OK)
		f.writeJSON(w, http.StatusOK, outcome.Response)
	}
}

func (f *HTTPFront) handleListTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	trace := shared.NewTrace("", nil)
	if _, err := f.auth.Authenticate(BearerToken(r.Header.Get("Authorization"))); err != nil {
		f.writeJSON(w, http.StatusUnauthorized, shared.FailResponse(trace, err))
		return
	}

	if f.bus == nil {
		f.writeJSON(w, http.StatusOK, shared.FailResponse(trace,
			shared.NewError(shared.ErrBusUnavailable, "message bus is not configured")))
		return
	}
	topics, err := f.bus.ListTopics(r.Context())
	if err != nil {
		f.writeJSON(w, http.StatusOK, shared.FailResponse(trace, err))
		return
	}
	f.writeJSON(w, http.StatusOK, shared.OKResponse(trace, map[string]any{
		"topics": topics,
		"count":  len(topics),
	}))
}

func (f *HTTPFront) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(f.metrics.Render()))
}
