package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestNodeRequiresLoggerAndConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestNodeStartServesHealthAndShutsDown(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.AuthorizationTypeValue = config.NoAuthorization
	cfg.Manifests = []shared.AgentManifest{
		{
			AgentID:     "seeded",
			DisplayName: "Seeded Agent",
			Version:     "1.0.0",
			RuntimeKind: shared.RuntimeNative,
			Endpoint:    shared.AgentEndpoint{Transport: shared.TransportHTTP, URI: "http://localhost:9500"},
			Capabilities: []shared.CapabilityDescriptor{
				{Name: "reason"},
			},
		},
	}

	node, err := New(zap.NewNop(), cfg)
	require.NoError(t, err)

	addr := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, node.Start(ctx, http.NewServeMux(), addr))

	baseURL := "http://" + addr

	// Liveness endpoint responds.
	var resp *http.Response
	require.Eventually(t, func() bool {
		var getErr error
		resp, getErr = http.Get(baseURL + "/health")
		return getErr == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The seeded agent is visible through the pipeline-backed REST surface.
	listResp, err := http.Get(baseURL + "/mcp/list_agents")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&envelope))
	require.True(t, envelope.OK, "list_agents failed: %+v", envelope.Error)
	agents := envelope.Result.(map[string]any)["agents"].([]any)
	require.Len(t, agents, 1)
	assert.Equal(t, "seeded", agents[0].(map[string]any)["agent_id"])

	cancel()
	assert.True(t, node.WaitForShutdown(5*time.Second))
}

func TestNodePipelineHandlesDirectly(t *testing.T) {
	cfg := config.NewInternalConfig()
	node, err := New(zap.NewNop(), cfg)
	require.NoError(t, err)

	outcome := node.Pipeline().Handle(context.Background(), "fabric.health", nil,
		shared.AuthContext{Mode: shared.AuthModeNone, PrincipalID: "local"})
	require.NotNil(t, outcome.Response)
	assert.True(t, outcome.Response.OK)

	result, err := json.Marshal(outcome.Response.Result)
	require.NoError(t, err)
	assert.Contains(t, string(result), fmt.Sprintf("%q", "registry"))
}
