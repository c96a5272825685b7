package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aetherpro/fabric/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func zeroManifest(uri string) *shared.AgentManifest {
	m := &shared.AgentManifest{
		AgentID:     "zero-agent",
		DisplayName: "Zero Agent",
		Version:     "1.0.0",
		RuntimeKind: shared.RuntimeZeroStyle,
		Endpoint:    shared.AgentEndpoint{Transport: shared.TransportHTTP, URI: uri},
		Capabilities: []shared.CapabilityDescriptor{
			{Name: "review"},
		},
	}
	m.Normalize()
	return m
}

func TestZeroStyleAdapterTranslatesRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		// The foreign protocol shape: action_name, params, trace_id.
		assert.Equal(t, "review", body["action_name"])
		assert.NotEmpty(t, body["trace_id"])
		params := body["params"].(map[string]any)
		assert.Equal(t, "check the PR", params["task"])

		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"output": map[string]any{"verdict": "approved"},
		})
	}))
	defer server.Close()

	adapter := NewZeroStyleAdapter(zeroManifest(server.URL), zap.NewNop())
	envelope := testEnvelope("review", 0)
	envelope.Input.Task = "check the PR"

	result, err := adapter.Call(context.Background(), envelope)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result.(json.RawMessage), &payload))
	assert.Equal(t, "approved", payload["verdict"])
}

func TestZeroStyleAdapterMapsForeignError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "error",
			"error":  map[string]any{"kind": "overloaded", "message": "try later"},
		})
	}))
	defer server.Close()

	adapter := NewZeroStyleAdapter(zeroManifest(server.URL), zap.NewNop())
	_, err := adapter.Call(context.Background(), testEnvelope("review", 0))
	require.Error(t, err)

	fe := shared.AsError(err)
	assert.Equal(t, shared.ErrUpstream, fe.Code)
	assert.Equal(t, "try later", fe.Message)
	assert.Equal(t, "overloaded", fe.Details["upstream_code"])
}

func TestZeroStyleAdapterSyntheticStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"output": map[string]any{"verdict": "approved"},
		})
	}))
	defer server.Close()

	adapter := NewZeroStyleAdapter(zeroManifest(server.URL), zap.NewNop())
	stream, err := adapter.CallStream(context.Background(), testEnvelope("review", 0))
	require.NoError(t, err)

	var received []shared.StreamEvent
	for ev := range stream {
		received = append(received, ev)
	}
	require.Len(t, received, 2)
	assert.Equal(t, shared.EventStatus, received[0].Event)
	assert.True(t, received[1].IsFinal())
	assert.Equal(t, true, received[1].Data["ok"])
}

func TestCustomHTTPAdapterProtocolTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/run", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "summarize", body["op"])
		assert.Equal(t, "shorten this", body["prompt"])

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"summary": "short"},
		})
	}))
	defer server.Close()

	m := &shared.AgentManifest{
		AgentID:     "custom-agent",
		DisplayName: "Custom Agent",
		Version:     "1.0.0",
		RuntimeKind: shared.RuntimeCustomHTTP,
		Endpoint:    shared.AgentEndpoint{Transport: shared.TransportHTTP, URI: server.URL},
		Capabilities: []shared.CapabilityDescriptor{
			{Name: "summarize"},
		},
		Protocol: map[string]string{
			"path":             "/v1/run",
			"capability_field": "op",
			"task_field":       "prompt",
			"result_field":     "data",
		},
	}
	m.Normalize()

	adapter := NewCustomHTTPAdapter(m, zap.NewNop())
	envelope := testEnvelope("summarize", 0)
	envelope.Input.Task = "shorten this"

	result, err := adapter.Call(context.Background(), envelope)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result.(json.RawMessage), &payload))
	assert.Equal(t, "short", payload["summary"])
}
