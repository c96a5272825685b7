package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aetherpro/fabric/shared"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var _ IConfig = (*YamlConfig)(nil)

// YamlConfig implements all configuration interfaces with YAML file-based storage
type YamlConfig struct {
	mu         sync.RWMutex
	configPath string
	logger     *zap.Logger

	serverAddress     string
	serverName        string
	serverVersion     string
	logLevel          string
	authorizationType AuthorizationType
	psk               string

	redisURL          string
	databaseURL       string
	probeInterval     time.Duration
	stalenessWindow   time.Duration
	visibilityTimeout time.Duration

	manifests  []shared.AgentManifest
	toolSafety map[string]*ToolSafety

	// SSL Fields
	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string
}

// YAML configuration structure matching the manifest file format
type yamlConfig struct {
	Server struct {
		Address       string `yaml:"address"`
		Name          string `yaml:"name"`
		Version       string `yaml:"version"`
		LogLevel      string `yaml:"log_level"`
		Authorization string `yaml:"authorization"` // "psk" or "none"
		PSK           string `yaml:"psk"`
		SSL           struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`
	} `yaml:"server"`

	Bus struct {
		RedisURL            string `yaml:"redis_url"`
		VisibilityTimeoutMs int    `yaml:"visibility_timeout_ms"`
	} `yaml:"bus"`

	Registry struct {
		DatabaseURL       string `yaml:"database_url"`
		ProbeIntervalMs   int    `yaml:"probe_interval_ms"`
		StalenessWindowMs int    `yaml:"staleness_window_ms"`
	} `yaml:"registry"`

	Agents []yamlAgent `yaml:"agents"`

	Tools map[string]struct {
		AllowedPaths    []string `yaml:"allowed_paths"`
		DeniedPaths     []string `yaml:"denied_paths"`
		CommandDenylist []string `yaml:"command_denylist"`
		EnvDenylist     []string `yaml:"env_denylist"`
		MaxOutputBytes  int      `yaml:"max_output_bytes"`
	} `yaml:"tools"`
}

type yamlAgent struct {
	AgentID     string `yaml:"agent_id"`
	DisplayName string `yaml:"display_name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Runtime     string `yaml:"runtime"`
	Endpoint    struct {
		Transport string `yaml:"transport"`
		URI       string `yaml:"uri"`
	} `yaml:"endpoint"`
	Capabilities []struct {
		Name         string         `yaml:"name"`
		Description  string         `yaml:"description"`
		Streaming    bool           `yaml:"streaming"`
		Modalities   []string       `yaml:"modalities"`
		InputSchema  map[string]any `yaml:"input_schema"`
		OutputSchema map[string]any `yaml:"output_schema"`
		MaxTimeoutMs int            `yaml:"max_timeout_ms"`
	} `yaml:"capabilities"`
	Tags      []string          `yaml:"tags"`
	TrustTier string            `yaml:"trust_tier"`
	Protocol  map[string]string `yaml:"protocol"`
}

// NewYamlConfig creates a new YAML-based configuration
func NewYamlConfig(configPath string, logger *zap.Logger) (*YamlConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	config := &YamlConfig{
		configPath:        configPath,
		logger:            logger,
		authorizationType: PSKRequired,
		toolSafety:        make(map[string]*ToolSafety),
		sslMode:           "manual",
		sslAcmeCacheDir:   "./.autocert-cache",
	}

	if err := config.Update(); err != nil {
		return nil, err
	}
	return config, nil
}

// Update reloads configuration from the YAML file
func (c *YamlConfig) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("Updating configuration from YAML file", zap.String("path", c.configPath))

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.logger.Error("Failed to read config file", zap.Error(err))
		return err
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		c.logger.Error("Failed to parse YAML", zap.Error(err))
		return err
	}

	// --- Process Server Section ---
	c.serverAddress = yamlCfg.Server.Address
	c.serverName = yamlCfg.Server.Name
	c.serverVersion = yamlCfg.Server.Version
	c.logLevel = yamlCfg.Server.LogLevel
	c.psk = yamlCfg.Server.PSK
	switch strings.ToLower(yamlCfg.Server.Authorization) {
	case "none":
		c.authorizationType = NoAuthorization
	default:
		c.authorizationType = PSKRequired
	}

	// --- Process SSL Section ---
	c.sslEnabled = yamlCfg.Server.SSL.Enabled
	c.sslMode = strings.ToLower(yamlCfg.Server.SSL.Mode)
	if c.sslMode != "acme" {
		c.sslMode = "manual"
	}
	c.sslCertFile = yamlCfg.Server.SSL.CertFile
	c.sslKeyFile = yamlCfg.Server.SSL.KeyFile
	c.sslAcmeDomains = yamlCfg.Server.SSL.AcmeDomains
	c.sslAcmeEmail = yamlCfg.Server.SSL.AcmeEmail
	c.sslAcmeCacheDir = yamlCfg.Server.SSL.AcmeCacheDir
	if c.sslAcmeCacheDir == "" {
		c.sslAcmeCacheDir = "./.autocert-cache"
	}

	// --- Process Bus / Registry Sections ---
	c.redisURL = yamlCfg.Bus.RedisURL
	c.visibilityTimeout = msOrDefault(yamlCfg.Bus.VisibilityTimeoutMs, DefaultBusVisibilityTimeout)
	c.databaseURL = yamlCfg.Registry.DatabaseURL
	c.probeInterval = msOrDefault(yamlCfg.Registry.ProbeIntervalMs, DefaultHealthProbeInterval)
	c.stalenessWindow = msOrDefault(yamlCfg.Registry.StalenessWindowMs, DefaultHealthStalenessWindow)

	// --- Process Agents Section ---
	manifests := make([]shared.AgentManifest, 0, len(yamlCfg.Agents))
	for _, a := range yamlCfg.Agents {
		if a.AgentID == "" {
			c.logger.Warn("Skipping agent entry with empty agent_id")
			continue
		}
		m, err := a.toManifest()
		if err != nil {
			c.logger.Error("Failed to convert agent entry", zap.String("agent_id", a.AgentID), zap.Error(err))
			continue
		}
		manifests = append(manifests, *m)
	}
	c.manifests = manifests

	// --- Process Tools Section ---
	newSafety := make(map[string]*ToolSafety, len(yamlCfg.Tools))
	for toolID, t := range yamlCfg.Tools {
		newSafety[toolID] = &ToolSafety{
			AllowedPaths:    append([]string(nil), t.AllowedPaths...),
			DeniedPaths:     append([]string(nil), t.DeniedPaths...),
			CommandDenylist: append([]string(nil), t.CommandDenylist...),
			EnvDenylist:     append([]string(nil), t.EnvDenylist...),
			MaxOutputBytes:  t.MaxOutputBytes,
		}
	}
	c.toolSafety = newSafety

	return nil
}

func (a *yamlAgent) toManifest() (*shared.AgentManifest, error) {
	m := &shared.AgentManifest{
		AgentID:     a.AgentID,
		DisplayName: a.DisplayName,
		Version:     a.Version,
		Description: a.Description,
		RuntimeKind: shared.RuntimeKind(a.Runtime),
		Endpoint: shared.AgentEndpoint{
			Transport: shared.TransportType(a.Endpoint.Transport),
			URI:       a.Endpoint.URI,
		},
		Tags:      append([]string(nil), a.Tags...),
		TrustTier: shared.TrustTier(a.TrustTier),
		Protocol:  a.Protocol,
	}
	for _, cap := range a.Capabilities {
		desc := shared.CapabilityDescriptor{
			Name:         cap.Name,
			Description:  cap.Description,
			Streaming:    cap.Streaming,
			Modalities:   append([]string(nil), cap.Modalities...),
			MaxTimeoutMs: cap.MaxTimeoutMs,
		}
		if len(cap.InputSchema) > 0 {
			raw, err := json.Marshal(cap.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("input schema for %s/%s: %w", a.AgentID, cap.Name, err)
			}
			desc.InputSchema = raw
		}
		if len(cap.OutputSchema) > 0 {
			raw, err := json.Marshal(cap.OutputSchema)
			if err != nil {
				return nil, fmt.Errorf("output schema for %s/%s: %w", a.AgentID, cap.Name, err)
			}
			desc.OutputSchema = raw
		}
		m.Capabilities = append(m.Capabilities, desc)
	}
	m.Normalize()
	return m, nil
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// --- IConfig Implementation ---

func (c *YamlConfig) Close() error { return nil }

func (c *YamlConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddress, nil
}

func (c *YamlConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, nil
}

func (c *YamlConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion, nil
}

func (c *YamlConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel, nil
}

func (c *YamlConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorizationType, nil
}

func (c *YamlConfig) PSK() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.psk, nil
}

func (c *YamlConfig) RedisURL() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redisURL, nil
}

func (c *YamlConfig) DatabaseURL() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.databaseURL, nil
}

func (c *YamlConfig) HealthProbeInterval() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.probeInterval, nil
}

func (c *YamlConfig) HealthStalenessWindow() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stalenessWindow, nil
}

func (c *YamlConfig) BusVisibilityTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visibilityTimeout, nil
}

func (c *YamlConfig) AgentManifests() ([]shared.AgentManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]shared.AgentManifest, len(c.manifests))
	copy(out, c.manifests)
	return out, nil
}

func (c *YamlConfig) ToolSafety(toolID string) (*ToolSafety, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	safety, exists := c.toolSafety[toolID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *safety
	return &cp, nil
}

func (c *YamlConfig) Status(ctx context.Context) error {
	if _, err := os.Stat(c.configPath); err != nil {
		c.logger.Error("YAML config file status check failed", zap.String("path", c.configPath), zap.Error(err))
		return fmt.Errorf("config file error: %w", err)
	}
	return nil
}

// --- SSL Methods ---

func (c *YamlConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslEnabled, nil
}

func (c *YamlConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslMode, nil
}

func (c *YamlConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslCertFile, nil
}

func (c *YamlConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslKeyFile, nil
}

func (c *YamlConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domainsCopy := make([]string, len(c.sslAcmeDomains))
	copy(domainsCopy, c.sslAcmeDomains)
	return domainsCopy, nil
}

func (c *YamlConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeEmail, nil
}

func (c *YamlConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeCacheDir, nil
}
