// Package config loads and validates the provisd configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Token    TokenConfig    `yaml:"token" json:"token"`
	Quota    QuotaConfig    `yaml:"quota" json:"quota"`
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery"`
	Abuse    AbuseConfig    `yaml:"abuse" json:"abuse"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Audit    AuditConfig    `yaml:"audit" json:"audit"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address         string `yaml:"address" json:"address"`
	Port            int    `yaml:"port" json:"port"`
	ReadTimeout     string `yaml:"read_timeout" json:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// GetServerAddress returns the full listen address
func (s ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// TokenConfig holds signed delivery token settings.
// Secret is usually injected through PROVISD_TOKEN_SECRET rather than YAML.
type TokenConfig struct {
	Secret string `yaml:"secret" json:"-"`
	Window string `yaml:"window" json:"window"`
}

// ValidityWindow returns the parsed token validity window.
// Validate guarantees the value parses; the default covers the zero value.
func (t TokenConfig) ValidityWindow() time.Duration {
	d, err := time.ParseDuration(t.Window)
	if err != nil || d <= 0 {
		return 4 * time.Minute
	}
	return d
}

// QuotaConfig selects and configures the quota ledger backend
type QuotaConfig struct {
	Backend  string         `yaml:"backend" json:"backend"` // "memory", "postgres"
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds PostgreSQL ledger settings.
// DSN is usually injected through PROVISD_POSTGRES_DSN rather than YAML.
type PostgresConfig struct {
	DSN          string `yaml:"dsn" json:"-"`
	MaxConns     int    `yaml:"max_conns" json:"max_conns"`
	ConnLifetime string `yaml:"conn_lifetime" json:"conn_lifetime"`
}

// DeliveryConfig holds the signed delivery surface settings
type DeliveryConfig struct {
	// PathPrefix is the fixed obscured first path segment of delivery URLs.
	PathPrefix string `yaml:"path_prefix" json:"path_prefix"`
	// PathConstant is the opaque constant segment between region and artifact.
	PathConstant string `yaml:"path_constant" json:"path_constant"`
	// Regions maps a region key to its backing base location.
	Regions map[string]string `yaml:"regions" json:"regions"`
	// AllowedTools are case-insensitive tool identity prefixes permitted to fetch.
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`
	// BlockedTools are case-insensitive substrings of tool identities always denied.
	BlockedTools []string `yaml:"blocked_tools" json:"blocked_tools"`
	// BlockedSuffixes are artifact name suffixes that are never served.
	BlockedSuffixes []string `yaml:"blocked_suffixes" json:"blocked_suffixes"`
	// Variants maps catalog keys to the artifact delivered for them.
	Variants map[string]string `yaml:"variants" json:"variants"`
}

// AbuseConfig holds the sliding-window rate limiting settings
type AbuseConfig struct {
	Classes       map[string]AbuseClassConfig `yaml:"classes" json:"classes"`
	SweepInterval string                      `yaml:"sweep_interval" json:"sweep_interval"`
}

// AbuseClassConfig configures one action class
type AbuseClassConfig struct {
	Window   string `yaml:"window" json:"window"`
	MaxCount int    `yaml:"max_count" json:"max_count"`
	BlockFor string `yaml:"block_for" json:"block_for"`
}

// NotifyConfig holds dashboard notification stream settings
type NotifyConfig struct {
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	StreamBufferSize  int    `yaml:"stream_buffer_size" json:"stream_buffer_size"`
	MessengerTimeout  string `yaml:"messenger_timeout" json:"messenger_timeout"`
}

// AuditConfig holds the append-only access log settings
type AuditConfig struct {
	// File is the JSONL access log path. Empty disables audit logging.
	File string `yaml:"file" json:"file"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output string `yaml:"output" json:"output"` // stdout or a file path
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            8750,
			ReadTimeout:     "15s",
			ShutdownTimeout: "10s",
		},
		Token: TokenConfig{
			Window: "4m",
		},
		Quota: QuotaConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				MaxConns:     10,
				ConnLifetime: "30m",
			},
		},
		Delivery: DeliveryConfig{
			PathPrefix:   "d7f1c2",
			PathConstant: "boot",
			Regions:      map[string]string{},
			AllowedTools: []string{"curl", "wget", "aria2", "busybox"},
			BlockedTools: []string{
				"mozilla", "chrome", "safari", "edge", "opera",
				"bot", "spider", "crawler", "python-requests", "go-http-client",
			},
			BlockedSuffixes: []string{".php", ".key", ".pem", ".conf.bak"},
			Variants: map[string]string{
				"win11-pro":  "win11-pro.tar.gz",
				"win10-pro":  "win10-pro.tar.gz",
				"win2022-dc": "win2022-dc.tar.gz",
			},
		},
		Abuse: AbuseConfig{
			Classes: map[string]AbuseClassConfig{
				"delivery": {Window: "1m", MaxCount: 60, BlockFor: "10m"},
				"command":  {Window: "1m", MaxCount: 10, BlockFor: "5m"},
			},
			SweepInterval: "1m",
		},
		Notify: NotifyConfig{
			HeartbeatInterval: "25s",
			StreamBufferSize:  16,
			MessengerTimeout:  "5s",
		},
		Audit: AuditConfig{
			File: "",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a YAML file on top of defaults.
// Secrets may additionally come from the environment (see applyEnv).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secret-bearing fields from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("PROVISD_TOKEN_SECRET"); v != "" {
		c.Token.Secret = v
	}
	if v := os.Getenv("PROVISD_POSTGRES_DSN"); v != "" {
		c.Quota.Postgres.DSN = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if c.Token.Secret == "" {
		return fmt.Errorf("token.secret is required (set PROVISD_TOKEN_SECRET)")
	}
	if _, err := time.ParseDuration(c.Token.Window); err != nil {
		return fmt.Errorf("token.window: %w", err)
	}

	switch c.Quota.Backend {
	case "memory":
	case "postgres":
		if c.Quota.Postgres.DSN == "" {
			return fmt.Errorf("quota.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("quota.backend must be \"memory\" or \"postgres\", got %q", c.Quota.Backend)
	}

	if c.Delivery.PathPrefix == "" {
		return fmt.Errorf("delivery.path_prefix is required")
	}
	if c.Delivery.PathConstant == "" {
		return fmt.Errorf("delivery.path_constant is required")
	}
	if len(c.Delivery.AllowedTools) == 0 {
		return fmt.Errorf("delivery.allowed_tools must not be empty")
	}
	if len(c.Delivery.Variants) == 0 {
		return fmt.Errorf("delivery.variants must not be empty")
	}

	for name, class := range c.Abuse.Classes {
		if class.MaxCount <= 0 {
			return fmt.Errorf("abuse.classes.%s.max_count must be positive", name)
		}
		if _, err := time.ParseDuration(class.Window); err != nil {
			return fmt.Errorf("abuse.classes.%s.window: %w", name, err)
		}
		if _, err := time.ParseDuration(class.BlockFor); err != nil {
			return fmt.Errorf("abuse.classes.%s.block_for: %w", name, err)
		}
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"abuse.sweep_interval", c.Abuse.SweepInterval},
		{"notify.heartbeat_interval", c.Notify.HeartbeatInterval},
		{"notify.messenger_timeout", c.Notify.MessengerTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	return nil
}

// MustDuration parses a duration string already checked by Validate
func MustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q: %v", s, err))
	}
	return d
}
