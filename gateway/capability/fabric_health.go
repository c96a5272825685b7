package capability

import (
	"context"
	"time"
)

// fabricHealth handles "fabric.health": a composite snapshot of the registry,
// runtimes, tool inventory and bus connectivity.
func (c *FabricCapability) fabricHealth(ctx context.Context, req *request) (any, error) {
	registryStatus := "ok"
	counts, err := c.registry.Counts()
	if err != nil {
		req.logger.Error("Registry count failed during health check")
		registryStatus = "degraded"
	}

	busStatus := "ok"
	if c.bus == nil {
		busStatus = "disabled"
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.bus.Ping(pingCtx); err != nil {
			busStatus = "unavailable"
		}
		cancel()
	}

	return map[string]any{
		"ok":       true,
		"registry": registryStatus,
		"runtimes": map[string]any{
			"online":   counts.Online,
			"degraded": counts.Degraded,
			"offline":  counts.Offline,
		},
		"tools": map[string]any{
			"builtin_count": c.tools.Count(),
		},
		"bus":            busStatus,
		"version":        c.version,
		"uptime_seconds": int(time.Since(c.startTime).Seconds()),
	}, nil
}
