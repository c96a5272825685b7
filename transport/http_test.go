package transport_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aetherpro/fabric/gateway/capability"
	"github.com/aetherpro/fabric/registry"
	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/aetherpro/fabric/tools"
	"github.com/aetherpro/fabric/tools/builtin"
	"github.com/aetherpro/fabric/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPSK = "test-shared-secret"

type httpEnv struct {
	server   *httptest.Server
	registry *registry.MemoryRegistry
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	cfg.PSKValue = testPSK

	reg := registry.NewMemoryRegistry(logger)
	host := tools.NewHost(cfg, logger)
	require.NoError(t, host.RegisterAll(builtin.All()))

	pipeline := capability.NewFabricCapability(cfg, reg, host, nil, logger)
	front := transport.NewHTTPFront(pipeline, transport.NewAuthenticator(cfg, logger), nil, cfg, logger)

	mux := http.NewServeMux()
	front.RegisterHandlers(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &httpEnv{server: server, registry: reg}
}

func (e *httpEnv) post(t *testing.T, token, name string, args map[string]any) (*http.Response, *shared.Response) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/mcp/call", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, &envelope
}

// Auth rejection: wrong bearer token yields HTTP 401 with an AUTH_DENIED
// envelope carrying a trace id.
func TestMCPCallAuthRejection(t *testing.T) {
	env := newHTTPEnv(t)

	resp, envelope := env.post(t, "wrong-token", "fabric.health", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, envelope.OK)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, shared.ErrAuthDenied, envelope.Error.Code)
	assert.NotEmpty(t, envelope.Trace.TraceID)
}

func TestMCPCallMissingToken(t *testing.T) {
	env := newHTTPEnv(t)
	resp, envelope := env.post(t, "", "fabric.health", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, shared.ErrAuthDenied, envelope.Error.Code)
}

func TestMCPCallHealth(t *testing.T) {
	env := newHTTPEnv(t)
	resp, envelope := env.post(t, testPSK, "fabric.health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, envelope.OK)
	assert.NotEmpty(t, envelope.Trace.TraceID)

	result := envelope.Result.(map[string]any)
	assert.Equal(t, "ok", result["registry"])
}

func TestMCPCallMalformedBody(t *testing.T) {
	env := newHTTPEnv(t)
	resp, err := http.Post(env.server.URL+"/mcp/call", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.OK)
	assert.Equal(t, shared.ErrBadInput, envelope.Error.Code)
	assert.NotEmpty(t, envelope.Trace.TraceID)
}

func TestHealthEndpoint(t *testing.T) {
	env := newHTTPEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestRESTListAgents(t *testing.T) {
	env := newHTTPEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/mcp/list_agents", nil)
	req.Header.Set("Authorization", "Bearer "+testPSK)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.OK)
	result := envelope.Result.(map[string]any)
	assert.NotNil(t, result["agents"])
}

func TestRESTRegisterAndDescribeAgent(t *testing.T) {
	env := newHTTPEnv(t)

	manifest := map[string]any{
		"agent_id":     "rest-agent",
		"display_name": "REST Agent",
		"version":      "1.0.0",
		"runtime_kind": "native",
		"endpoint":     map[string]any{"transport": "http", "uri": "http://localhost:9400"},
		"capabilities": []any{map[string]any{"name": "reason"}},
	}
	body, _ := json.Marshal(manifest)
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/mcp/register_agent", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testPSK)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.OK, "register failed: %+v", envelope.Error)

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/mcp/agent/rest-agent", nil)
	req.Header.Set("Authorization", "Bearer "+testPSK)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	var describe shared.Response
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&describe))
	require.True(t, describe.OK)
	agent := describe.Result.(map[string]any)["agent"].(map[string]any)
	assert.Equal(t, "rest-agent", agent["agent_id"])
}

func TestRESTListTools(t *testing.T) {
	env := newHTTPEnv(t)
	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/mcp/list_tools?provider=builtin", nil)
	req.Header.Set("Authorization", "Bearer "+testPSK)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.OK)
	result := envelope.Result.(map[string]any)
	assert.Greater(t, result["count"].(float64), 10.0)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newHTTPEnv(t)
	env.post(t, testPSK, "fabric.health", nil)

	resp, err := http.Get(env.server.URL + "/mcp/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var content strings.Builder
	for scanner.Scan() {
		content.WriteString(scanner.Text())
		content.WriteString("\n")
	}
	assert.Contains(t, content.String(), "fabric_calls_total")
	assert.Contains(t, content.String(), fmt.Sprintf("%q", "fabric.health"))
}

// Streaming over HTTP: stream:true on a streaming capability yields
// text/event-stream framing terminated by a final event.
func TestMCPCallStreamingSSE(t *testing.T) {
	env := newHTTPEnv(t)

	agentMux := http.NewServeMux()
	agentMux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range []map[string]any{
			{"event": "token", "data": map[string]any{"text": "hi"}},
			{"event": "final", "data": map[string]any{"ok": true, "result": map[string]any{"answer": "done"}}},
		} {
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	})
	agent := httptest.NewServer(agentMux)
	t.Cleanup(agent.Close)

	require.NoError(t, env.registry.Register(&shared.AgentManifest{
		AgentID:     "streamer",
		DisplayName: "Streamer",
		Version:     "1.0.0",
		RuntimeKind: shared.RuntimeNative,
		Endpoint:    shared.AgentEndpoint{Transport: shared.TransportHTTP, URI: agent.URL},
		Capabilities: []shared.CapabilityDescriptor{
			{Name: "reason", Streaming: true},
		},
	}))

	body, _ := json.Marshal(map[string]any{
		"name": "fabric.call",
		"arguments": map[string]any{
			"agent_id":   "streamer",
			"capability": "reason",
			"task":       "go",
			"stream":     true,
		},
	})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/mcp/call", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testPSK)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []shared.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev shared.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsFinal())
}
