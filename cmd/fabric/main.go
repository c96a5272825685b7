package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aetherpro/fabric/gateway"
	"github.com/aetherpro/fabric/shared/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "fabric",
		Usage: "AI-agent capability gateway",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the gateway",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "transport",
						Value:   "http",
						Usage:   "transport front: http or stdio",
						EnvVars: []string{"FABRIC_TRANSPORT"},
					},
					&cli.StringFlag{
						Name:    "config",
						Value:   "fabric.yaml",
						Usage:   "path to the manifest/config file",
						EnvVars: []string{"FABRIC_CONFIG"},
					},
					&cli.StringFlag{
						Name:    "listen",
						Usage:   "listen address override (e.g. :8000)",
						EnvVars: []string{"FABRIC_LISTEN"},
					},
					&cli.StringFlag{
						Name:    "psk",
						Usage:   "pre-shared key (used only when no config file is found)",
						EnvVars: []string{"FABRIC_PSK"},
					},
					&cli.StringFlag{
						Name:    "redis-url",
						Usage:   "stream store URL (used only when no config file is found)",
						EnvVars: []string{"REDIS_URL"},
					},
					&cli.StringFlag{
						Name:    "database-url",
						Usage:   "durable registry database URL (used only when no config file is found)",
						EnvVars: []string{"DATABASE_URL"},
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "",
						Usage:   "log level override (debug, info, warn, error)",
						EnvVars: []string{"FABRIC_LOG_LEVEL"},
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	bootstrapLogger, _ := zap.NewProduction()

	cfg, err := loadConfig(c, bootstrapLogger)
	if err != nil {
		return err
	}
	defer cfg.Close()

	logger, err := buildLogger(c.String("log-level"), cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := gateway.New(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway node: %w", err)
	}

	switch c.String("transport") {
	case "stdio":
		return node.RunStdio(ctx)
	case "http":
		if err := node.Start(ctx, http.NewServeMux(), c.String("listen")); err != nil {
			return err
		}
		<-ctx.Done()
		if !node.WaitForShutdown(10 * time.Second) {
			return fmt.Errorf("shutdown timed out")
		}
		return nil
	default:
		return fmt.Errorf("unknown transport: %s", c.String("transport"))
	}
}

func loadConfig(c *cli.Context, logger *zap.Logger) (config.IConfig, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); err == nil {
		yamlCfg, err := config.NewYamlConfig(configPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		if err := config.WatchYamlConfig(c.Context, yamlCfg, logger); err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		}
		return yamlCfg, nil
	}

	logger.Warn("Config file not found, starting with defaults and flags",
		zap.String("path", configPath))
	internal := config.NewInternalConfig()
	if v := c.String("listen"); v != "" {
		internal.SetListenAddr(v)
	}
	if v := c.String("psk"); v != "" {
		internal.PSKValue = v
	}
	if v := c.String("redis-url"); v != "" {
		internal.RedisURLValue = v
	}
	if v := c.String("database-url"); v != "" {
		internal.DatabaseURLValue = v
	}
	return internal, nil
}

func buildLogger(override string, cfg config.IConfig) (*zap.Logger, error) {
	levelName := override
	if levelName == "" {
		levelName, _ = cfg.LogLevel()
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
