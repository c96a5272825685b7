package bus

import (
	"context"
	"testing"
	"time"

	"github.com/aetherpro/fabric/shared"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T, visibility time.Duration) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, visibility, zap.NewNop())
}

func sendTest(t *testing.T, b *Bus, from, to string, payload map[string]any) *SendReceipt {
	t.Helper()
	msg := shared.NewMessage(from, to, "task", payload, shared.PriorityNormal, "")
	receipt, err := b.Send(context.Background(), msg)
	require.NoError(t, err)
	return receipt
}

func TestSendReceiveAckRoundTrip(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	receipt := sendTest(t, b, "coder", "percy", map[string]any{"k": 1.0})
	assert.NotEmpty(t, receipt.MessageID)
	assert.Equal(t, "queued", receipt.Status)
	assert.NotEmpty(t, receipt.StreamID)

	messages, err := b.Receive(ctx, "percy", 1, 50*time.Millisecond, "")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "coder", messages[0].FromAgent)
	assert.Equal(t, 1.0, messages[0].Payload["k"])
	assert.Equal(t, receipt.StreamID, messages[0].StreamEntryID)

	acked, err := b.Acknowledge(ctx, "percy", []string{messages[0].StreamEntryID}, "")
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.True(t, acked[0].Acked)

	// Within the visibility horizon an acked entry is not redelivered.
	again, err := b.Receive(ctx, "percy", 1, 10*time.Millisecond, "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReceiveOrdering(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		sendTest(t, b, "a", "b", map[string]any{"n": float64(i)})
	}

	messages, err := b.Receive(ctx, "b", 10, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, float64(i+1), msg.Payload["n"], "inbox order must be monotonic")
	}
	// Stream entry ids are strictly increasing.
	assert.Less(t, messages[0].StreamEntryID, messages[1].StreamEntryID)
	assert.Less(t, messages[1].StreamEntryID, messages[2].StreamEntryID)
}

func TestAckIdempotent(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	sendTest(t, b, "a", "b", map[string]any{"x": 1.0})
	messages, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	id := messages[0].StreamEntryID
	first, err := b.Acknowledge(ctx, "b", []string{id}, "")
	require.NoError(t, err)
	assert.True(t, first[0].Acked)

	second, err := b.Acknowledge(ctx, "b", []string{id}, "")
	require.NoError(t, err)
	assert.True(t, second[0].Acked, "acking an already-acked id succeeds without side effect")
}

func TestUnackedRedeliveryAfterVisibilityHorizon(t *testing.T) {
	b := newTestBus(t, 50*time.Millisecond)
	ctx := context.Background()

	sendTest(t, b, "a", "b", map[string]any{"x": 1.0})

	first, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Within the horizon the pending entry stays with its consumer.
	mid, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "")
	require.NoError(t, err)
	assert.Empty(t, mid)

	time.Sleep(80 * time.Millisecond)

	redelivered, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "")
	require.NoError(t, err)
	require.Len(t, redelivered, 1, "no loss: unacked entry becomes claimable")
	assert.Equal(t, first[0].StreamEntryID, redelivered[0].StreamEntryID)
}

func TestQueueStatusDepth(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	status, err := b.QueueStatus(ctx, "empty")
	require.NoError(t, err)
	assert.EqualValues(t, 0, status["queue_depth"])

	sendTest(t, b, "a", "b", map[string]any{"x": 1.0})
	sendTest(t, b, "a", "b", map[string]any{"x": 2.0})

	status, err = b.QueueStatus(ctx, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, status["queue_depth"])
	assert.Equal(t, "b", status["agent_id"])
}

func TestConsumerGroupIsolation(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	sendTest(t, b, "a", "b", map[string]any{"x": 1.0})

	workers, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "b_workers")
	require.NoError(t, err)
	require.Len(t, workers, 1)

	// A different group has its own cursor and sees the same entry.
	observers, err := b.Receive(ctx, "b", 1, 10*time.Millisecond, "b_observers")
	require.NoError(t, err)
	require.Len(t, observers, 1)
	assert.Equal(t, workers[0].StreamEntryID, observers[0].StreamEntryID)
}

func TestPublishCountsSubscribers(t *testing.T) {
	b := newTestBus(t, 30*time.Second)
	ctx := context.Background()

	recipients, err := b.Publish(ctx, "analytics.insights", map[string]any{"sev": "high"}, "monitor")
	require.NoError(t, err)
	assert.EqualValues(t, 0, recipients, "no subscribers yet")
}

func TestBusUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewWithClient(client, time.Second, zap.NewNop())
	mr.Close()

	_, err := b.Send(context.Background(),
		shared.NewMessage("a", "b", "task", map[string]any{}, shared.PriorityNormal, ""))
	require.Error(t, err)
	assert.Equal(t, shared.ErrBusUnavailable, shared.AsError(err).Code)

	_, err = b.Receive(context.Background(), "b", 1, 0, "")
	require.Error(t, err)
	assert.Equal(t, shared.ErrBusUnavailable, shared.AsError(err).Code)
}
