package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProber(reg IRegistry) *Prober {
	p := NewProber(reg, time.Second, time.Hour, zap.NewNop())
	p.RetryWindow = 5 * time.Millisecond
	return p
}

func registerWithEndpoint(t *testing.T, reg IRegistry, agentID, uri string) {
	t.Helper()
	m := testManifest(agentID, agentID, "reason")
	m.Endpoint.URI = uri
	require.NoError(t, reg.Register(m))
}

func agentStatus(t *testing.T, reg IRegistry, agentID string) shared.AgentStatus {
	t.Helper()
	m, err := reg.Get(agentID)
	require.NoError(t, err)
	return m.Status
}

func TestProberDemotesUnreachableAgent(t *testing.T) {
	// An endpoint that refuses connections: bind then close immediately.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	reg := NewMemoryRegistry(zap.NewNop())
	registerWithEndpoint(t, reg, "ghost", deadURL)
	require.Equal(t, shared.StatusOnline, agentStatus(t, reg, "ghost"))

	prober := newTestProber(reg)
	ctx := context.Background()

	// Two consecutive failures: online -> degraded.
	prober.Sweep(ctx)
	require.Equal(t, shared.StatusOnline, agentStatus(t, reg, "ghost"))
	prober.Sweep(ctx)
	require.Equal(t, shared.StatusDegraded, agentStatus(t, reg, "ghost"))

	// Three more: degraded -> offline.
	prober.Sweep(ctx)
	prober.Sweep(ctx)
	prober.Sweep(ctx)
	require.Equal(t, shared.StatusOffline, agentStatus(t, reg, "ghost"))

	// Offline agents are no longer probed; status stays put.
	prober.Sweep(ctx)
	require.Equal(t, shared.StatusOffline, agentStatus(t, reg, "ghost"))
}

func TestProberPromotesHealthyAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewMemoryRegistry(zap.NewNop())
	registerWithEndpoint(t, reg, "healthy", server.URL)
	require.NoError(t, reg.UpdateStatus("healthy", shared.StatusDegraded, time.Now().UTC()))

	prober := newTestProber(reg)
	prober.Sweep(context.Background())

	assert.Equal(t, shared.StatusOnline, agentStatus(t, reg, "healthy"))
}

func TestProberStalenessDemotion(t *testing.T) {
	// Unreachable endpoint: the probe fails (one failure does not demote),
	// but the stale heartbeat does.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	reg := NewMemoryRegistry(zap.NewNop())
	registerWithEndpoint(t, reg, "sleepy", deadURL)

	prober := newTestProber(reg)
	prober.window = 50 * time.Millisecond

	time.Sleep(60 * time.Millisecond)
	prober.Sweep(context.Background())

	assert.Equal(t, shared.StatusOffline, agentStatus(t, reg, "sleepy"))
}

func TestProberFreshAgentNotDemotedByStaleness(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewMemoryRegistry(zap.NewNop())
	registerWithEndpoint(t, reg, "fresh", server.URL)

	prober := newTestProber(reg)
	prober.window = 50 * time.Millisecond

	// Older than the window, but the successful probe refreshes
	// last_seen_at before the staleness check runs.
	time.Sleep(60 * time.Millisecond)
	prober.Sweep(context.Background())

	assert.Equal(t, shared.StatusOnline, agentStatus(t, reg, "fresh"))
}

func TestProberRecordsProbeOutcomes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewMemoryRegistry(zap.NewNop())
	registerWithEndpoint(t, reg, "observed", server.URL)

	prober := newTestProber(reg)
	var recorded []shared.AgentStatus
	prober.RecordProbe = func(agentID string, status shared.AgentStatus, latency time.Duration) {
		recorded = append(recorded, status)
	}
	prober.Sweep(context.Background())

	require.Len(t, recorded, 1)
	assert.Equal(t, shared.StatusOnline, recorded[0])
}
