package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/aetherpro/fabric/runtime"
	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
)

var _ IRegistry = (*MemoryRegistry)(nil)

// MemoryRegistry keeps manifests and adapters in process memory, seeded from
// the declarative manifest file. A single writer lock serializes mutations;
// reads copy out snapshots.
type MemoryRegistry struct {
	mu       sync.RWMutex
	agents   map[string]*shared.AgentManifest
	adapters map[string]runtime.IRuntimeAdapter
	logger   *zap.Logger
}

func NewMemoryRegistry(logger *zap.Logger) *MemoryRegistry {
	return &MemoryRegistry{
		agents:   make(map[string]*shared.AgentManifest),
		adapters: make(map[string]runtime.IRuntimeAdapter),
		logger:   logger,
	}
}

func (r *MemoryRegistry) Register(manifest *shared.AgentManifest) error {
	m := manifest.Clone()
	m.Normalize()
	if m.AgentID == "" {
		return shared.NewError(shared.ErrBadInput, "agent_id is required")
	}
	if m.Status == shared.StatusUnknown {
		// A freshly registered agent is assumed reachable until probed.
		m.Status = shared.StatusOnline
	}
	m.LastSeenAt = time.Now().UTC()

	adapter, err := runtime.New(m, r.logger)
	if err != nil {
		return shared.Errorf(shared.ErrBadInput, "cannot build adapter: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[m.AgentID] = m
	r.adapters[m.AgentID] = adapter

	r.logger.Info("Registered agent",
		zap.String("agent_id", m.AgentID),
		zap.String("display_name", m.DisplayName),
		zap.String("runtime", string(m.RuntimeKind)))
	return nil
}

func (r *MemoryRegistry) Deregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agentID]; !exists {
		return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	delete(r.agents, agentID)
	delete(r.adapters, agentID)
	r.logger.Info("Deregistered agent", zap.String("agent_id", agentID))
	return nil
}

func (r *MemoryRegistry) Get(agentID string) (*shared.AgentManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.agents[agentID]
	if !exists {
		return nil, shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	return m.Clone(), nil
}

func (r *MemoryRegistry) Adapter(agentID string) (runtime.IRuntimeAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, exists := r.adapters[agentID]
	if !exists {
		return nil, shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	return adapter, nil
}

func (r *MemoryRegistry) List(filter ListFilter) ([]*shared.AgentManifest, error) {
	r.mu.RLock()
	result := make([]*shared.AgentManifest, 0, len(r.agents))
	for _, m := range r.agents {
		if matchesFilter(m, filter) {
			result = append(result, m.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		ri, rj := shared.StatusRank(result[i].Status), shared.StatusRank(result[j].Status)
		if ri != rj {
			return ri < rj
		}
		return result[i].DisplayName < result[j].DisplayName
	})
	return result, nil
}

func (r *MemoryRegistry) FindByCapability(capability string) ([]CapabilityMatch, error) {
	listed, err := r.List(ListFilter{Capability: capability})
	if err != nil {
		return nil, err
	}
	matches := make([]CapabilityMatch, 0, len(listed))
	for i, m := range listed {
		matches = append(matches, CapabilityMatch{AgentID: m.AgentID, Priority: i + 1})
	}
	return matches, nil
}

func (r *MemoryRegistry) UpdateStatus(agentID string, status shared.AgentStatus, lastSeenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.agents[agentID]
	if !exists {
		return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	if lastSeenAt.Before(m.LastSeenAt) {
		// A newer probe already superseded this update.
		return nil
	}
	m.Status = status
	m.LastSeenAt = lastSeenAt
	return nil
}

func (r *MemoryRegistry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.agents[agentID]
	if !exists {
		return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	m.LastSeenAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) Counts() (StatusCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var counts StatusCounts
	for _, m := range r.agents {
		switch m.Status {
		case shared.StatusOnline:
			counts.Online++
		case shared.StatusDegraded:
			counts.Degraded++
		case shared.StatusOffline:
			counts.Offline++
		}
	}
	return counts, nil
}

// RecordCall is a no-op for the in-memory variant; audit logs need the
// durable registry.
func (r *MemoryRegistry) RecordCall(entry CallLogEntry) {}

func (r *MemoryRegistry) Close() error { return nil }
