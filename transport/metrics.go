package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metrics keeps plain counters exposed at /mcp/metrics. Only trace-id
// propagation is mandatory; these counters exist for operators.
type Metrics struct {
	mu       sync.Mutex
	calls    map[string]int64
	failures map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		calls:    make(map[string]int64),
		failures: make(map[string]int64),
	}
}

func (m *Metrics) RecordCall(name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	if !ok {
		m.failures[name]++
	}
}

// Render emits the counters in Prometheus text exposition format.
func (m *Metrics) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.calls))
	for name := range m.calls {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("# TYPE fabric_calls_total counter\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "fabric_calls_total{name=%q} %d\n", name, m.calls[name])
	}
	sb.WriteString("# TYPE fabric_call_failures_total counter\n")
	for _, name := range names {
		if m.failures[name] > 0 {
			fmt.Fprintf(&sb, "fabric_call_failures_total{name=%q} %d\n", name, m.failures[name])
		}
	}
	return sb.String()
}
