package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceGeneratesIDs(t *testing.T) {
	trace := NewTrace("", nil)
	assert.NotEmpty(t, trace.TraceID)
	assert.NotEmpty(t, trace.SpanID)
	assert.Nil(t, trace.ParentSpanID)
}

func TestNewTraceAdoptsCallerTraceID(t *testing.T) {
	trace := NewTrace("caller-trace", nil)
	assert.Equal(t, "caller-trace", trace.TraceID)
	assert.NotEmpty(t, trace.SpanID)
}

func TestChildKeepsTraceParentsSpan(t *testing.T) {
	parent := NewTrace("", nil)
	child := parent.Child()
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	require.NotNil(t, child.ParentSpanID)
	assert.Equal(t, parent.SpanID, *child.ParentSpanID)
}

func TestSpanIDsUniqueAcrossConcurrentRequests(t *testing.T) {
	const n = 200
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trace := NewTrace("shared-trace", nil)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[trace.SpanID], "span id collision")
			seen[trace.SpanID] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestTraceFromArgs(t *testing.T) {
	args := map[string]any{
		"trace": map[string]any{
			"trace_id":       "abc",
			"parent_span_id": "parent",
		},
	}
	trace := TraceFromArgs(args)
	assert.Equal(t, "abc", trace.TraceID)
	require.NotNil(t, trace.ParentSpanID)
	assert.Equal(t, "parent", *trace.ParentSpanID)

	empty := TraceFromArgs(map[string]any{})
	assert.NotEmpty(t, empty.TraceID)
	assert.Nil(t, empty.ParentSpanID)
}

func TestAsErrorSanitizesUnknownErrors(t *testing.T) {
	err := AsError(assert.AnError)
	assert.Equal(t, ErrInternal, err.Code)
	assert.NotContains(t, err.Message, assert.AnError.Error())

	fe := NewError(ErrAgentNotFound, "agent not found: x")
	assert.Same(t, fe, AsError(fe))
}
