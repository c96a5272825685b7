// Package registry holds agent manifests, their runtime adapters, and health
// state. Two variants satisfy IRegistry: an in-memory one seeded from the
// declarative manifest file, and a durable PostgreSQL one.
package registry

import (
	"time"

	"github.com/aetherpro/fabric/runtime"
	"github.com/aetherpro/fabric/shared"
)

// ListFilter narrows a registry listing. Zero values match everything.
type ListFilter struct {
	Capability string
	Tag        string
	Status     shared.AgentStatus
}

// CapabilityMatch is one entry of an ordered fallback list.
type CapabilityMatch struct {
	AgentID  string `json:"agent_id"`
	Priority int    `json:"priority"`
}

// StatusCounts summarizes runtime health for fabric.health.
type StatusCounts struct {
	Online   int `json:"online"`
	Degraded int `json:"degraded"`
	Offline  int `json:"offline"`
}

// CallLogEntry is one audit record for the durable variant.
type CallLogEntry struct {
	TraceID     string
	TargetType  string
	TargetID    string
	Capability  string
	Request     []byte
	Response    []byte
	OK          bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// IRegistry is the single-writer agent directory. Readers always see a
// consistent snapshot; mutations are serialized by the implementation.
type IRegistry interface {
	// Register adds or replaces an agent and constructs its adapter.
	Register(manifest *shared.AgentManifest) error

	// Deregister removes an agent.
	Deregister(agentID string) error

	// Get returns a snapshot of the manifest.
	Get(agentID string) (*shared.AgentManifest, error)

	// Adapter returns the runtime adapter owned by the registration.
	Adapter(agentID string) (runtime.IRuntimeAdapter, error)

	// List returns manifests matching the filter, ordered by status rank then
	// display name.
	List(filter ListFilter) ([]*shared.AgentManifest, error)

	// FindByCapability returns agents declaring the capability, in listing
	// order, each with its fallback priority.
	FindByCapability(capability string) ([]CapabilityMatch, error)

	// UpdateStatus records a health transition. Updates older than the
	// current last_seen_at are ignored; transitions are monotone in time.
	UpdateStatus(agentID string, status shared.AgentStatus, lastSeenAt time.Time) error

	// Heartbeat refreshes last_seen_at without changing status.
	Heartbeat(agentID string) error

	// Counts tallies agents by status.
	Counts() (StatusCounts, error)

	// RecordCall appends a call audit record. The in-memory variant drops it.
	RecordCall(entry CallLogEntry)

	Close() error
}

func matchesFilter(m *shared.AgentManifest, filter ListFilter) bool {
	if filter.Capability != "" {
		if _, ok := m.Capability(filter.Capability); !ok {
			return false
		}
	}
	if filter.Tag != "" && !m.HasTag(filter.Tag) {
		return false
	}
	if filter.Status != "" && m.Status != filter.Status {
		return false
	}
	return true
}
