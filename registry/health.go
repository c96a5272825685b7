package registry

import (
	"context"
	"time"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

const probeTimeout = 10 * time.Second

// Prober demotes and promotes agents from periodic adapter health probes.
// Two consecutive failures take online to degraded, three take degraded to
// offline; one success promotes back to online. Agents whose last_seen_at is
// older than the staleness window go offline without a probe.
type Prober struct {
	registry IRegistry
	logger   *zap.Logger
	interval time.Duration
	window   time.Duration
	failures map[string]int

	// RecordProbe, when set, persists each probe outcome (durable variant).
	RecordProbe func(agentID string, status shared.AgentStatus, latency time.Duration)

	// RetryWindow bounds the transient-failure retry per probe.
	RetryWindow time.Duration
}

func NewProber(reg IRegistry, interval, stalenessWindow time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		registry:    reg,
		logger:      logger,
		interval:    interval,
		window:      stalenessWindow,
		failures:    make(map[string]int),
		RetryWindow: 2 * time.Second,
	}
}

// Run probes at a fixed cadence until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one probing pass over online and degraded agents, then applies
// staleness demotion across the board.
func (p *Prober) Sweep(ctx context.Context) {
	agents, err := p.registry.List(ListFilter{})
	if err != nil {
		p.logger.Error("Health sweep failed to list agents", zap.Error(err))
		return
	}

	for _, m := range agents {
		switch m.Status {
		case shared.StatusOnline, shared.StatusDegraded:
			p.probeOne(ctx, m.AgentID, m.Status)
		case shared.StatusUnknown, shared.StatusOffline:
			// Not probed. A heartbeat refreshes last_seen_at but not status,
			// so these agents come back only via re-registration.
		}

		// Staleness runs against post-probe state: a successful probe just
		// refreshed last_seen_at and must not be demoted.
		fresh, err := p.registry.Get(m.AgentID)
		if err != nil {
			continue // deregistered mid-sweep
		}
		now := time.Now().UTC()
		if fresh.Status != shared.StatusOffline && now.Sub(fresh.LastSeenAt) > p.window {
			p.logger.Warn("Agent stale, demoting to offline",
				zap.String("agent_id", m.AgentID),
				zap.Time("last_seen_at", fresh.LastSeenAt))
			if err := p.registry.UpdateStatus(m.AgentID, shared.StatusOffline, now); err != nil {
				p.logger.Error("Failed to demote stale agent", zap.String("agent_id", m.AgentID), zap.Error(err))
			}
		}
	}
}

func (p *Prober) probeOne(ctx context.Context, agentID string, current shared.AgentStatus) {
	adapter, err := p.registry.Adapter(agentID)
	if err != nil {
		return // deregistered mid-sweep
	}

	started := time.Now()
	var status shared.AgentStatus

	// Transient network blips should not demote an agent; retry briefly
	// before counting the probe as failed.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.RetryWindow / 10
	bo.MaxElapsedTime = p.RetryWindow
	probeErr := backoff.Retry(func() error {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		var err error
		status, err = adapter.ProbeHealth(probeCtx)
		return err
	}, bo)
	latency := time.Since(started)

	now := time.Now().UTC()
	if probeErr != nil || status == shared.StatusOffline {
		p.failures[agentID]++
		fails := p.failures[agentID]
		next := current
		switch {
		case current == shared.StatusOnline && fails >= 2:
			next = shared.StatusDegraded
			p.failures[agentID] = 0
		case current == shared.StatusDegraded && fails >= 3:
			next = shared.StatusOffline
			p.failures[agentID] = 0
		}
		if next != current {
			p.logger.Warn("Health probe demotion",
				zap.String("agent_id", agentID),
				zap.String("from", string(current)),
				zap.String("to", string(next)))
			if err := p.registry.UpdateStatus(agentID, next, now); err != nil {
				p.logger.Error("Failed to update agent status", zap.String("agent_id", agentID), zap.Error(err))
			}
		}
		if p.RecordProbe != nil {
			p.RecordProbe(agentID, shared.StatusOffline, latency)
		}
		return
	}

	p.failures[agentID] = 0
	if status == "" {
		status = shared.StatusOnline
	}
	if err := p.registry.UpdateStatus(agentID, status, now); err != nil {
		p.logger.Error("Failed to update agent status", zap.String("agent_id", agentID), zap.Error(err))
	}
	if p.RecordProbe != nil {
		p.RecordProbe(agentID, status, latency)
	}
}
