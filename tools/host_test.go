package tools

import (
	"context"
	"testing"

	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoTool() *Tool {
	return &Tool{
		ID:       "test.echo",
		Category: "test",
		Capabilities: map[string]Capability{
			"echo": {
				Method:   "echo",
				Required: []string{"text"},
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return map[string]any{"text": params["text"]}, nil
				},
			},
		},
	}
}

func gatedTool() *Tool {
	return &Tool{
		ID:       "test.gated",
		Category: "test",
		Safety:   &SafetyRules{MinTrustTier: shared.TierLocal},
		Capabilities: map[string]Capability{
			"run": {
				Method: "run",
				Handler: func(ctx context.Context, params map[string]any) (any, error) {
					return map[string]any{"ran": true}, nil
				},
			},
		},
	}
}

func newTestHost(t *testing.T, toolset ...*Tool) *Host {
	t.Helper()
	host := NewHost(config.NewInternalConfig(), zap.NewNop())
	require.NoError(t, host.RegisterAll(toolset))
	return host
}

func TestHostExecute(t *testing.T) {
	host := newTestHost(t, echoTool())
	result, err := host.Execute(context.Background(), "test.echo", "echo",
		map[string]any{"text": "hi"}, shared.TierOrg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, result)
}

func TestHostUnknownTool(t *testing.T) {
	host := newTestHost(t, echoTool())
	_, err := host.Execute(context.Background(), "test.missing", "echo", nil, shared.TierOrg)
	require.Error(t, err)
	assert.Equal(t, shared.ErrToolNotFound, shared.AsError(err).Code)
}

func TestHostUnknownCapability(t *testing.T) {
	host := newTestHost(t, echoTool())
	_, err := host.Execute(context.Background(), "test.echo", "shout", nil, shared.TierOrg)
	require.Error(t, err)
	assert.Equal(t, shared.ErrCapabilityNotFound, shared.AsError(err).Code)
}

func TestHostMissingRequiredParameter(t *testing.T) {
	host := newTestHost(t, echoTool())
	_, err := host.Execute(context.Background(), "test.echo", "echo", map[string]any{}, shared.TierOrg)
	require.Error(t, err)
	assert.Equal(t, shared.ErrBadInput, shared.AsError(err).Code)
}

func TestHostTrustTierGate(t *testing.T) {
	host := newTestHost(t, gatedTool())

	_, err := host.Execute(context.Background(), "test.gated", "run", nil, shared.TierOrg)
	require.Error(t, err)
	fe := shared.AsError(err)
	assert.Equal(t, shared.ErrToolExecution, fe.Code)
	assert.Equal(t, "ACCESS_DENIED", fe.Details["tool_code"])

	result, err := host.Execute(context.Background(), "test.gated", "run", nil, shared.TierLocal)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ran": true}, result)
}

func TestHostDuplicateToolID(t *testing.T) {
	host := newTestHost(t, echoTool())
	assert.Error(t, host.Register(echoTool()))
}

func TestHostListAndDescribe(t *testing.T) {
	host := newTestHost(t, echoTool(), gatedTool())

	all := host.ListTools("", "")
	assert.Len(t, all, 2)

	byCategory := host.ListTools("test", "")
	assert.Len(t, byCategory, 2)

	none := host.ListTools("nope", "")
	assert.Empty(t, none)

	descriptor, err := host.DescribeTool("test.echo")
	require.NoError(t, err)
	assert.Equal(t, "test.echo", descriptor.ToolID)
	assert.Equal(t, map[string]string{"echo": "echo"}, descriptor.Capabilities)

	_, err = host.DescribeTool("test.missing")
	assert.Error(t, err)
}

func TestHostConfigSafetyOverride(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.ToolSafetyOverrides["test.gated"] = &config.ToolSafety{
		CommandDenylist: []string{"extra"},
	}
	host := NewHost(cfg, zap.NewNop())

	tool := gatedTool()
	require.NoError(t, host.Register(tool))
	assert.Contains(t, tool.Safety.CommandDenylist, "extra")
	// Built-in constraints survive the merge.
	assert.Equal(t, shared.TierLocal, tool.Safety.MinTrustTier)
}
