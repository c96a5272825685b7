package config

import (
	"context"
	"sync"
	"time"

	"github.com/aetherpro/fabric/shared"
)

var _ IConfig = (*InternalConfig)(nil)

// InternalConfig implements all configuration interfaces with in-memory storage
type InternalConfig struct {
	mu                         sync.RWMutex
	ServerAddress              string
	ServerNameValue            string
	ServerVersionValue         string
	LogLevelValue              string
	AuthorizationTypeValue     AuthorizationType
	PSKValue                   string
	RedisURLValue              string
	DatabaseURLValue           string
	HealthProbeIntervalValue   time.Duration
	HealthStalenessWindowValue time.Duration
	BusVisibilityTimeoutValue  time.Duration
	Manifests                  []shared.AgentManifest
	ToolSafetyOverrides        map[string]*ToolSafety

	SSLEnabledValue  bool
	SSLModeValue     string
	SSLCertFileValue string
	SSLKeyFileValue  string
}

// NewInternalConfig creates a new in-memory configuration
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ServerAddress:              ":8000",
		ServerNameValue:            "fabric",
		ServerVersionValue:         "af-mcp-0.1",
		LogLevelValue:              "info",
		AuthorizationTypeValue:     PSKRequired,
		PSKValue:                   "dev-shared-secret",
		RedisURLValue:              "redis://localhost:6379",
		HealthProbeIntervalValue:   DefaultHealthProbeInterval,
		HealthStalenessWindowValue: DefaultHealthStalenessWindow,
		BusVisibilityTimeoutValue:  DefaultBusVisibilityTimeout,
		ToolSafetyOverrides:        make(map[string]*ToolSafety),
		SSLModeValue:               "manual",
	}
}

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerAddress, nil
}

func (c *InternalConfig) SetListenAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerAddress = addr
}

func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}

func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}

func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}

func (c *InternalConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AuthorizationTypeValue, nil
}

func (c *InternalConfig) PSK() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PSKValue, nil
}

func (c *InternalConfig) RedisURL() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RedisURLValue, nil
}

func (c *InternalConfig) DatabaseURL() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DatabaseURLValue, nil
}

func (c *InternalConfig) HealthProbeInterval() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.HealthProbeIntervalValue <= 0 {
		return DefaultHealthProbeInterval, nil
	}
	return c.HealthProbeIntervalValue, nil
}

func (c *InternalConfig) HealthStalenessWindow() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.HealthStalenessWindowValue <= 0 {
		return DefaultHealthStalenessWindow, nil
	}
	return c.HealthStalenessWindowValue, nil
}

func (c *InternalConfig) BusVisibilityTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.BusVisibilityTimeoutValue <= 0 {
		return DefaultBusVisibilityTimeout, nil
	}
	return c.BusVisibilityTimeoutValue, nil
}

func (c *InternalConfig) AgentManifests() ([]shared.AgentManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]shared.AgentManifest, len(c.Manifests))
	copy(out, c.Manifests)
	return out, nil
}

func (c *InternalConfig) AddManifest(m shared.AgentManifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Normalize()
	c.Manifests = append(c.Manifests, m)
}

func (c *InternalConfig) ToolSafety(toolID string) (*ToolSafety, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	safety, exists := c.ToolSafetyOverrides[toolID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *safety
	return &cp, nil
}

// --- SSL Methods ---

func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}

func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLModeValue, nil
}

func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileValue, nil
}

func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileValue, nil
}

func (c *InternalConfig) SSLAcmeDomains() ([]string, error) { return nil, nil }
func (c *InternalConfig) SSLAcmeEmail() (string, error)     { return "", nil }
func (c *InternalConfig) SSLAcmeCacheDir() (string, error)  { return "./.autocert-cache", nil }

func (c *InternalConfig) Status(ctx context.Context) error { return nil }
func (c *InternalConfig) Close() error                     { return nil }
