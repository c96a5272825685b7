package registry

import (
	"testing"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManifest(agentID, displayName string, caps ...string) *shared.AgentManifest {
	descriptors := make([]shared.CapabilityDescriptor, 0, len(caps))
	for _, name := range caps {
		descriptors = append(descriptors, shared.CapabilityDescriptor{Name: name})
	}
	return &shared.AgentManifest{
		AgentID:     agentID,
		DisplayName: displayName,
		Version:     "1.0.0",
		RuntimeKind: shared.RuntimeNative,
		Endpoint: shared.AgentEndpoint{
			Transport: shared.TransportHTTP,
			URI:       "http://localhost:9999",
		},
		Capabilities: descriptors,
		Tags:         []string{"test"},
		TrustTier:    shared.TierOrg,
	}
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	original := testManifest("researcher", "Researcher", "reason", "summarize")
	require.NoError(t, reg.Register(original))

	got, err := reg.Get("researcher")
	require.NoError(t, err)

	// Byte-semantic equality ignoring generated fields.
	assert.Equal(t, original.AgentID, got.AgentID)
	assert.Equal(t, original.DisplayName, got.DisplayName)
	assert.Equal(t, original.Version, got.Version)
	assert.Equal(t, original.Endpoint, got.Endpoint)
	assert.Equal(t, original.Tags, got.Tags)
	require.Len(t, got.Capabilities, 2)
	assert.Equal(t, "reason", got.Capabilities[0].Name)
	assert.Equal(t, shared.DefaultCapabilityTimeoutMs, got.Capabilities[0].MaxTimeoutMs)
	assert.Equal(t, shared.StatusOnline, got.Status)
	assert.False(t, got.LastSeenAt.IsZero())
}

func TestGetUnknownAgent(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	_, err := reg.Get("nobody")
	require.Error(t, err)
	assert.Equal(t, shared.ErrAgentNotFound, shared.AsError(err).Code)
}

func TestGetReturnsSnapshot(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	require.NoError(t, reg.Register(testManifest("a", "A", "x")))

	first, err := reg.Get("a")
	require.NoError(t, err)
	first.DisplayName = "mutated"
	first.Capabilities[0].Name = "mutated"

	second, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "A", second.DisplayName)
	assert.Equal(t, "x", second.Capabilities[0].Name)
}

func TestListFilterAndOrdering(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	require.NoError(t, reg.Register(testManifest("bravo", "Bravo", "reason")))
	require.NoError(t, reg.Register(testManifest("alpha", "Alpha", "reason")))
	require.NoError(t, reg.Register(testManifest("charlie", "Charlie", "translate")))

	now := time.Now().UTC()
	require.NoError(t, reg.UpdateStatus("alpha", shared.StatusOffline, now))
	require.NoError(t, reg.UpdateStatus("charlie", shared.StatusDegraded, now))

	all, err := reg.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// online < degraded < offline, secondary by display name
	assert.Equal(t, "bravo", all[0].AgentID)
	assert.Equal(t, "charlie", all[1].AgentID)
	assert.Equal(t, "alpha", all[2].AgentID)

	byCapability, err := reg.List(ListFilter{Capability: "reason"})
	require.NoError(t, err)
	require.Len(t, byCapability, 2)

	byStatus, err := reg.List(ListFilter{Status: shared.StatusDegraded})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "charlie", byStatus[0].AgentID)

	byTag, err := reg.List(ListFilter{Tag: "missing"})
	require.NoError(t, err)
	assert.Empty(t, byTag)
}

func TestFindByCapabilityOrdering(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	require.NoError(t, reg.Register(testManifest("beta", "Beta", "reason")))
	require.NoError(t, reg.Register(testManifest("alpha", "Alpha", "reason")))

	matches, err := reg.FindByCapability("reason")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "alpha", matches[0].AgentID)
	assert.Equal(t, 1, matches[0].Priority)
	assert.Equal(t, "beta", matches[1].AgentID)
	assert.Equal(t, 2, matches[1].Priority)
}

func TestUpdateStatusMonotone(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	require.NoError(t, reg.Register(testManifest("a", "A", "x")))

	future := time.Now().UTC().Add(time.Minute)
	require.NoError(t, reg.UpdateStatus("a", shared.StatusDegraded, future))

	// Older probe result must not supersede the newer one.
	require.NoError(t, reg.UpdateStatus("a", shared.StatusOnline, future.Add(-30*time.Second)))

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, shared.StatusDegraded, got.Status)
}

func TestDeregister(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	require.NoError(t, reg.Register(testManifest("a", "A", "x")))
	require.NoError(t, reg.Deregister("a"))

	_, err := reg.Get("a")
	assert.Error(t, err)
	assert.Error(t, reg.Deregister("a"))

	_, err = reg.Adapter("a")
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	reg := NewMemoryRegistry(zap.NewNop())
	counts, err := reg.Counts()
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{}, counts)

	require.NoError(t, reg.Register(testManifest("a", "A", "x")))
	require.NoError(t, reg.Register(testManifest("b", "B", "x")))
	require.NoError(t, reg.UpdateStatus("b", shared.StatusOffline, time.Now().UTC()))

	counts, err = reg.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Online)
	assert.Equal(t, 1, counts.Offline)
}
