// Package capability implements the request pipeline: every fabric.* call is
// classified, validated, routed to the registry+adapters, the tool host, or
// the message bus, and shaped into the canonical response envelope.
package capability

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/aetherpro/fabric/bus"
	"github.com/aetherpro/fabric/registry"
	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/aetherpro/fabric/tools"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultVersion = "af-mcp-0.1"

	// Per-principal token bucket: sustained and burst call rates.
	rateLimitPerSecond = 50
	rateLimitBurst     = 100
)

// Outcome is the shaped result of one handled call: a single response, or a
// lazy event sequence for streaming dispatch. Trace is always set.
type Outcome struct {
	Trace    shared.TraceContext
	Response *shared.Response
	Events   <-chan shared.StreamEvent
	// Degraded marks a stream request served synchronously because the
	// capability does not stream.
	Degraded bool
}

type request struct {
	trace  shared.TraceContext
	auth   shared.AuthContext
	args   map[string]any
	logger *zap.Logger
}

type handlerFunc func(ctx context.Context, req *request) (any, error)

// FabricCapability is the front controller shared by all transport fronts.
type FabricCapability struct {
	logger    *zap.Logger
	cfg       config.IConfig
	registry  registry.IRegistry
	tools     *tools.Host
	bus       *bus.Bus
	startTime time.Time
	version   string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	handlers map[string]handlerFunc
}

// NewFabricCapability wires the pipeline against its collaborators.
func NewFabricCapability(cfg config.IConfig, reg registry.IRegistry, host *tools.Host, b *bus.Bus, logger *zap.Logger) *FabricCapability {
	version, err := cfg.ServerVersion()
	if err != nil || version == "" {
		version = defaultVersion
	}
	c := &FabricCapability{
		logger:    logger,
		cfg:       cfg,
		registry:  reg,
		tools:     host,
		bus:       b,
		startTime: time.Now(),
		version:   version,
		limiters:  make(map[string]*rate.Limiter),
	}
	c.handlers = map[string]handlerFunc{
		"fabric.health":               c.fabricHealth,
		"fabric.agent.list":           c.fabricAgentList,
		"fabric.agent.describe":       c.fabricAgentDescribe,
		"fabric.agent.register":       c.fabricAgentRegister,
		"fabric.agent.deregister":     c.fabricAgentDeregister,
		"fabric.route.preview":        c.fabricRoutePreview,
		"fabric.tool.list":            c.fabricToolList,
		"fabric.tool.describe":        c.fabricToolDescribe,
		"fabric.tool.call":            c.fabricToolCall,
		"fabric.message.send":         c.fabricMessageSend,
		"fabric.message.receive":      c.fabricMessageReceive,
		"fabric.message.acknowledge":  c.fabricMessageAcknowledge,
		"fabric.message.publish":      c.fabricMessagePublish,
		"fabric.message.queue_status": c.fabricMessageQueueStatus,
	}
	return c
}

// Handle runs one call through the pipeline phases and shapes the outcome.
// It never returns nil; errors become failure envelopes carrying the trace.
func (c *FabricCapability) Handle(ctx context.Context, name string, args map[string]any, auth shared.AuthContext) *Outcome {
	if args == nil {
		args = map[string]any{}
	}
	trace := shared.TraceFromArgs(args)
	logger := c.logger.With(trace.ZapFields()...)
	req := &request{trace: trace, auth: auth, args: args, logger: logger}

	if !c.allow(auth.PrincipalID) {
		logger.Warn("Rate limit exceeded", zap.String("principal", auth.PrincipalID))
		return &Outcome{Trace: trace, Response: shared.FailResponse(trace,
			shared.NewError(shared.ErrRateLimited, "too many requests"))}
	}

	started := time.Now()
	outcome := c.dispatch(ctx, name, req)
	c.audit(name, req, outcome, started)
	return outcome
}

func (c *FabricCapability) dispatch(ctx context.Context, name string, req *request) *Outcome {
	// fabric.call may stream; it owns its outcome shaping.
	if name == "fabric.call" {
		return c.fabricCall(ctx, req)
	}

	if handler, exists := c.handlers[name]; exists {
		result, err := handler(ctx, req)
		if err != nil {
			req.logger.Warn("Call failed", zap.String("name", name), zap.Error(err))
			return &Outcome{Trace: req.trace, Response: shared.FailResponse(req.trace, err)}
		}
		return &Outcome{Trace: req.trace, Response: shared.OKResponse(req.trace, result)}
	}

	// fabric.tool.{category}.{name} dispatches straight into the tool host.
	if strings.HasPrefix(name, "fabric.tool.") {
		result, err := c.fabricToolDirect(ctx, name, req)
		if err != nil {
			req.logger.Warn("Direct tool call failed", zap.String("name", name), zap.Error(err))
			return &Outcome{Trace: req.trace, Response: shared.FailResponse(req.trace, err)}
		}
		return &Outcome{Trace: req.trace, Response: shared.OKResponse(req.trace, result)}
	}

	req.logger.Warn("Unknown call name", zap.String("name", name))
	return &Outcome{Trace: req.trace, Response: shared.FailResponse(req.trace,
		shared.Errorf(shared.ErrBadInput, "unknown tool: %s", name))}
}

func (c *FabricCapability) allow(principalID string) bool {
	if principalID == "" {
		principalID = "anonymous"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, exists := c.limiters[principalID]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst)
		c.limiters[principalID] = limiter
	}
	return limiter.Allow()
}

// audit records the call against the durable registry when one is active.
func (c *FabricCapability) audit(name string, req *request, outcome *Outcome, started time.Time) {
	if outcome.Response == nil {
		return // streaming outcomes carry no response envelope and are not audited
	}
	targetType, targetID, capability := auditTarget(name, req.args)
	reqJSON, _ := json.Marshal(req.args)
	respJSON, _ := json.Marshal(outcome.Response)
	c.registry.RecordCall(registry.CallLogEntry{
		TraceID:     req.trace.TraceID,
		TargetType:  targetType,
		TargetID:    targetID,
		Capability:  capability,
		Request:     reqJSON,
		Response:    respJSON,
		OK:          outcome.Response.OK,
		StartedAt:   started,
		CompletedAt: time.Now(),
	})
}

func auditTarget(name string, args map[string]any) (targetType, targetID, capability string) {
	switch {
	case name == "fabric.call":
		return "agent", stringArg(args, "agent_id"), stringArg(args, "capability")
	case name == "fabric.tool.call":
		return "tool", stringArg(args, "tool_id"), stringArg(args, "capability")
	case strings.HasPrefix(name, "fabric.message."):
		return "message", stringArg(args, "agent_id"), strings.TrimPrefix(name, "fabric.message.")
	default:
		return "gateway", name, ""
	}
}

// --- argument helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", shared.Errorf(shared.ErrBadInput, "%s is required", key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func mapArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
