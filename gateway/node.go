// Package gateway assembles the fabric gateway: registry, tool host, message
// bus, request pipeline and transport fronts.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aetherpro/fabric/bus"
	"github.com/aetherpro/fabric/gateway/capability"
	"github.com/aetherpro/fabric/registry"
	"github.com/aetherpro/fabric/shared"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/aetherpro/fabric/tools"
	"github.com/aetherpro/fabric/tools/builtin"
	"github.com/aetherpro/fabric/transport"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Node represents the main gateway component that coordinates all services.
type Node struct {
	logger   *zap.Logger
	cfg      config.IConfig
	registry registry.IRegistry
	tools    *tools.Host
	bus      *bus.Bus
	pipeline *capability.FabricCapability
	front    *transport.HTTPFront
	prober   *registry.Prober
	done     chan struct{}
}

// New creates a new gateway node with the provided logger and config.
func New(logger *zap.Logger, cfg config.IConfig) (*Node, error) {
	if logger == nil || cfg == nil {
		return nil, fmt.Errorf("logger and config are required")
	}
	n := &Node{
		logger: logger,
		cfg:    cfg,
		done:   make(chan struct{}),
	}

	// --- Registry: durable when a database is configured ---
	databaseURL, err := cfg.DatabaseURL()
	if err != nil {
		return nil, fmt.Errorf("failed to read database url: %w", err)
	}
	var pgRegistry *registry.PostgresRegistry
	if databaseURL != "" {
		pgRegistry, err = registry.NewPostgresRegistry(databaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create durable registry: %w", err)
		}
		n.registry = pgRegistry
		logger.Info("Using durable registry")
	} else {
		n.registry = registry.NewMemoryRegistry(logger)
		logger.Info("Using in-memory registry")
	}

	// Seed agents from the declarative manifest document.
	manifests, err := cfg.AgentManifests()
	if err != nil {
		logger.Warn("Failed to load agent manifests from config", zap.Error(err))
	}
	for i := range manifests {
		m := manifests[i]
		if err := n.registry.Register(&m); err != nil {
			logger.Error("Failed to register agent from manifest",
				zap.String("agent_id", m.AgentID), zap.Error(err))
		}
	}

	// --- Tool host ---
	n.tools = tools.NewHost(cfg, logger)
	if err := n.tools.RegisterAll(builtin.All()); err != nil {
		return nil, fmt.Errorf("failed to load tool inventory: %w", err)
	}
	if pgRegistry != nil {
		descriptors := n.tools.ListTools("", shared.ProviderBuiltin)
		if err := pgRegistry.SyncTools(descriptors); err != nil {
			logger.Error("Failed to sync tool inventory to database", zap.Error(err))
		}
	}

	// --- Message bus ---
	redisURL, err := cfg.RedisURL()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis url: %w", err)
	}
	if redisURL != "" {
		visibility, _ := cfg.BusVisibilityTimeout()
		n.bus, err = bus.New(redisURL, visibility, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create message bus: %w", err)
		}
	} else {
		logger.Warn("No redis url configured; message operations will fail with BUS_UNAVAILABLE")
	}

	// --- Pipeline and fronts ---
	n.pipeline = capability.NewFabricCapability(cfg, n.registry, n.tools, n.bus, logger)
	auth := transport.NewAuthenticator(cfg, logger)
	n.front = transport.NewHTTPFront(n.pipeline, auth, n.bus, cfg, logger)

	// --- Health prober ---
	interval, _ := cfg.HealthProbeInterval()
	window, _ := cfg.HealthStalenessWindow()
	n.prober = registry.NewProber(n.registry, interval, window, logger)
	if pgRegistry != nil {
		n.prober.RecordProbe = pgRegistry.RecordHealthCheck
	}

	return n, nil
}

// Pipeline exposes the request pipeline for embedding fronts.
func (n *Node) Pipeline() *capability.FabricCapability {
	return n.pipeline
}

// Start launches the HTTP front and background probing.
func (n *Node) Start(ctx context.Context, mux *http.ServeMux, overwriteListenAddr string) error {
	n.logger.Info("Starting gateway node")
	n.front.RegisterHandlers(mux)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(mux)

	httpServer, listenerErrChan, err := transport.StartHTTPServer(ctx, n.logger, n.cfg, handler, overwriteListenAddr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	go n.prober.Run(ctx)

	go func() {
		select {
		case err, ok := <-listenerErrChan:
			if ok && err != nil {
				n.logger.Error("HTTP listener failed", zap.Error(err))
			}
		case <-ctx.Done():
		}
	}()

	// Monitor the parent context for cancellation.
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		transport.ShutdownHTTPServer(shutdownCtx, n.logger, httpServer)
		n.closeResources()

		n.logger.Info("Gateway node stopped")
		close(n.done)
	}()

	n.logger.Info("Gateway node started successfully")
	return nil
}

// RunStdio serves the local JSON front until EOF or cancellation. The HTTP
// front is not started.
func (n *Node) RunStdio(ctx context.Context) error {
	go n.prober.Run(ctx)
	front := transport.NewStdioFront(n.pipeline, n.logger)
	err := front.Run(ctx, os.Stdin, os.Stdout)
	n.closeResources()
	close(n.done)
	return err
}

func (n *Node) closeResources() {
	if n.bus != nil {
		if err := n.bus.Close(); err != nil {
			n.logger.Error("Failed to close message bus", zap.Error(err))
		}
	}
	if err := n.registry.Close(); err != nil {
		n.logger.Error("Failed to close registry", zap.Error(err))
	}
}

// WaitForShutdown blocks until shutdown completes or the timeout fires.
func (n *Node) WaitForShutdown(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.done:
		return true
	case <-timer.C:
		n.logger.Warn("Shutdown timeout reached, forcing exit")
		return false
	}
}

// Start creates and starts a node with a fresh mux.
func Start(ctx context.Context, logger *zap.Logger, cfg config.IConfig, overwriteListenAddr string) (*Node, error) {
	node, err := New(logger, cfg)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx, http.NewServeMux(), overwriteListenAddr); err != nil {
		return nil, err
	}
	return node, nil
}
