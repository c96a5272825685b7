package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
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

func newStdioFront(t *testing.T) *transport.StdioFront {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	reg := registry.NewMemoryRegistry(logger)
	host := tools.NewHost(cfg, logger)
	require.NoError(t, host.RegisterAll(builtin.All()))
	pipeline := capability.NewFabricCapability(cfg, reg, host, nil, logger)
	return transport.NewStdioFront(pipeline, logger)
}

func runStdio(t *testing.T, input string) []map[string]any {
	t.Helper()
	front := newStdioFront(t)
	var out bytes.Buffer
	require.NoError(t, front.Run(context.Background(), strings.NewReader(input), &out))

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &body), "line: %s", line)
		lines = append(lines, body)
	}
	return lines
}

func TestStdioHealthCall(t *testing.T) {
	lines := runStdio(t, `{"id": 1, "name": "fabric.health", "arguments": {}}`+"\n")
	require.Len(t, lines, 1)

	resp := lines[0]
	assert.EqualValues(t, 1, resp["id"])
	assert.Equal(t, true, resp["ok"])
	trace := resp["trace"].(map[string]any)
	assert.NotEmpty(t, trace["trace_id"])
	assert.NotEmpty(t, trace["span_id"])
}

func TestStdioUnknownName(t *testing.T) {
	lines := runStdio(t, `{"id": "a", "name": "fabric.bogus", "arguments": {}}`+"\n")
	require.Len(t, lines, 1)

	resp := lines[0]
	assert.Equal(t, "a", resp["id"])
	assert.Equal(t, false, resp["ok"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, string(shared.ErrBadInput), errObj["code"])
	assert.NotEmpty(t, resp["trace"].(map[string]any)["trace_id"])
}

func TestStdioMalformedLine(t *testing.T) {
	lines := runStdio(t, "this is not json\n")
	require.Len(t, lines, 1)
	assert.Equal(t, false, lines[0]["ok"])
}

func TestStdioLocalCallerSkipsAuth(t *testing.T) {
	// The local front needs no credentials; a built-in tool call succeeds
	// without a token.
	lines := runStdio(t, `{"id": 2, "name": "fabric.tool.call", "arguments": {"tool_id": "system.clock", "capability": "now", "parameters": {}}}`+"\n")
	require.Len(t, lines, 1)
	assert.Equal(t, true, lines[0]["ok"])
}

func TestStdioMultipleRequests(t *testing.T) {
	input := `{"id": 1, "name": "fabric.health", "arguments": {}}` + "\n" +
		`{"id": 2, "name": "fabric.tool.list", "arguments": {"provider": "builtin"}}` + "\n"
	lines := runStdio(t, input)
	require.Len(t, lines, 2)

	byID := map[float64]map[string]any{}
	for _, line := range lines {
		byID[line["id"].(float64)] = line
	}
	require.Contains(t, byID, 1.0)
	require.Contains(t, byID, 2.0)
	assert.Equal(t, true, byID[1.0]["ok"])
	assert.Equal(t, true, byID[2.0]["ok"])
}
