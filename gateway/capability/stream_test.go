package capability

import (
	"context"
	"testing"

	"github.com/aetherpro/fabric/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Streaming terminal event: a stream:true call against a streaming capability
// emits at least one event and terminates with final; nothing follows final.
func TestStreamingCallTerminatesWithFinal(t *testing.T) {
	g := newTestGateway(t, false)
	server := nativeAgentServer(t)
	registerNativeAgent(t, g, "streamer", server.URL,
		shared.CapabilityDescriptor{Name: "reason", Streaming: true})

	outcome := g.pipeline.Handle(context.Background(), "fabric.call", map[string]any{
		"agent_id":   "streamer",
		"capability": "reason",
		"task":       "think aloud",
		"stream":     true,
	}, pskAuth())

	require.NotNil(t, outcome.Events, "streaming capability must yield events")
	require.Nil(t, outcome.Response)

	var received []shared.StreamEvent
	for ev := range outcome.Events {
		received = append(received, ev)
	}
	require.NotEmpty(t, received)
	last := received[len(received)-1]
	assert.True(t, last.IsFinal(), "terminal event must be final")
	for _, ev := range received[:len(received)-1] {
		assert.False(t, ev.IsFinal(), "no events may follow final")
	}
}

// Streaming requested on a non-streaming capability degrades to sync.
func TestStreamingDegradesOnNonStreamingCapability(t *testing.T) {
	g := newTestGateway(t, false)
	server := nativeAgentServer(t)
	registerNativeAgent(t, g, "plain", server.URL,
		shared.CapabilityDescriptor{Name: "reason", Streaming: false})

	outcome := g.pipeline.Handle(context.Background(), "fabric.call", map[string]any{
		"agent_id":   "plain",
		"capability": "reason",
		"task":       "think",
		"stream":     true,
	}, pskAuth())

	require.Nil(t, outcome.Events)
	require.NotNil(t, outcome.Response)
	assert.True(t, outcome.Degraded)
	assert.True(t, outcome.Response.OK)
}

// Cancelling the transport context ends the stream: the event channel closes.
func TestStreamingCancellation(t *testing.T) {
	g := newTestGateway(t, false)
	server := nativeAgentServer(t)
	registerNativeAgent(t, g, "streamer", server.URL,
		shared.CapabilityDescriptor{Name: "reason", Streaming: true})

	ctx, cancel := context.WithCancel(context.Background())
	outcome := g.pipeline.Handle(ctx, "fabric.call", map[string]any{
		"agent_id":   "streamer",
		"capability": "reason",
		"task":       "think aloud",
		"stream":     true,
	}, pskAuth())
	require.NotNil(t, outcome.Events)
	cancel()

	// Drain whatever arrives; the channel must close.
	for range outcome.Events {
	}
}
