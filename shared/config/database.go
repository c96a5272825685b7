package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aetherpro/fabric/shared"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var _ IConfig = (*DatabaseConfig)(nil)

// DatabaseConfig implements all configuration interfaces with PostgreSQL
// database-based storage. Settings live in a key/value table; agent manifests
// come from the durable registry tables and are surfaced through the registry,
// not here.
type DatabaseConfig struct {
	logger             *zap.Logger
	dbConnectionString string
	db                 *sql.DB
}

// NewDatabaseConfig creates a new DatabaseConfig instance
func NewDatabaseConfig(dbConnectionString string, logger *zap.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dbConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DatabaseConfig{
		dbConnectionString: dbConnectionString,
		logger:             logger,
		db:                 db,
	}, nil
}

// Close closes any resources held by the config
func (c *DatabaseConfig) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseConfig) getSettingString(key, fallback string) (string, error) {
	var raw []byte
	err := c.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		// Stored as a bare string rather than JSON
		return string(raw), nil
	}
	return value, nil
}

func (c *DatabaseConfig) getSettingInt(key string, fallback int) (int, error) {
	var raw []byte
	err := c.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return fallback, fmt.Errorf("setting %q is not a number: %w", key, err)
	}
	return value, nil
}

// --- IConfig Implementation ---

func (c *DatabaseConfig) ListenAddr() (string, error) {
	return c.getSettingString("fabric_listen_address", ":8000")
}

func (c *DatabaseConfig) ServerName() (string, error) {
	return c.getSettingString("fabric_server_name", "fabric")
}

func (c *DatabaseConfig) ServerVersion() (string, error) {
	return c.getSettingString("fabric_server_version", "af-mcp-0.1")
}

func (c *DatabaseConfig) LogLevel() (string, error) {
	return c.getSettingString("fabric_log_level", "info")
}

func (c *DatabaseConfig) AuthorizationType() (AuthorizationType, error) {
	v, err := c.getSettingString("fabric_authorization", "psk")
	if err != nil {
		return PSKRequired, err
	}
	if v == "none" {
		return NoAuthorization, nil
	}
	return PSKRequired, nil
}

func (c *DatabaseConfig) PSK() (string, error) {
	return c.getSettingString("fabric_psk", "")
}

func (c *DatabaseConfig) RedisURL() (string, error) {
	return c.getSettingString("fabric_redis_url", "redis://localhost:6379")
}

func (c *DatabaseConfig) DatabaseURL() (string, error) {
	return c.dbConnectionString, nil
}

func (c *DatabaseConfig) HealthProbeInterval() (time.Duration, error) {
	ms, err := c.getSettingInt("fabric_probe_interval_ms", int(DefaultHealthProbeInterval/time.Millisecond))
	return time.Duration(ms) * time.Millisecond, err
}

func (c *DatabaseConfig) HealthStalenessWindow() (time.Duration, error) {
	ms, err := c.getSettingInt("fabric_staleness_window_ms", int(DefaultHealthStalenessWindow/time.Millisecond))
	return time.Duration(ms) * time.Millisecond, err
}

func (c *DatabaseConfig) BusVisibilityTimeout() (time.Duration, error) {
	ms, err := c.getSettingInt("fabric_visibility_timeout_ms", int(DefaultBusVisibilityTimeout/time.Millisecond))
	return time.Duration(ms) * time.Millisecond, err
}

// AgentManifests returns no declarative seed; the durable registry variant
// loads agents from its own tables.
func (c *DatabaseConfig) AgentManifests() ([]shared.AgentManifest, error) {
	return nil, nil
}

func (c *DatabaseConfig) ToolSafety(toolID string) (*ToolSafety, error) {
	var raw []byte
	err := c.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, "fabric_tool_safety_"+toolID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tool safety for %q: %w", toolID, err)
	}
	var safety struct {
		AllowedPaths    []string `json:"allowed_paths"`
		DeniedPaths     []string `json:"denied_paths"`
		CommandDenylist []string `json:"command_denylist"`
		EnvDenylist     []string `json:"env_denylist"`
		MaxOutputBytes  int      `json:"max_output_bytes"`
	}
	if err := json.Unmarshal(raw, &safety); err != nil {
		return nil, fmt.Errorf("invalid tool safety JSON for %q: %w", toolID, err)
	}
	return &ToolSafety{
		AllowedPaths:    safety.AllowedPaths,
		DeniedPaths:     safety.DeniedPaths,
		CommandDenylist: safety.CommandDenylist,
		EnvDenylist:     safety.EnvDenylist,
		MaxOutputBytes:  safety.MaxOutputBytes,
	}, nil
}

// --- SSL Methods ---

func (c *DatabaseConfig) SSLEnabled() (bool, error) {
	v, err := c.getSettingString("fabric_ssl_enabled", "false")
	return v == "true", err
}

func (c *DatabaseConfig) SSLMode() (string, error) {
	return c.getSettingString("fabric_ssl_mode", "manual")
}

func (c *DatabaseConfig) SSLCertFile() (string, error) {
	return c.getSettingString("fabric_ssl_cert_file", "")
}

func (c *DatabaseConfig) SSLKeyFile() (string, error) {
	return c.getSettingString("fabric_ssl_key_file", "")
}

func (c *DatabaseConfig) SSLAcmeDomains() ([]string, error) {
	v, err := c.getSettingString("fabric_ssl_acme_domains", "")
	if err != nil || v == "" {
		return nil, err
	}
	var domains []string
	if err := json.Unmarshal([]byte(v), &domains); err != nil {
		return nil, fmt.Errorf("invalid acme domains setting: %w", err)
	}
	return domains, nil
}

func (c *DatabaseConfig) SSLAcmeEmail() (string, error) {
	return c.getSettingString("fabric_ssl_acme_email", "")
}

func (c *DatabaseConfig) SSLAcmeCacheDir() (string, error) {
	return c.getSettingString("fabric_ssl_acme_cache_dir", "./.autocert-cache")
}

func (c *DatabaseConfig) Status(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
