// ABOUTME: Configuration loading and parsing for vigil-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vigil-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agents    AgentsConfig    `yaml:"agents"`
	Commands  CommandsConfig  `yaml:"commands"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Transfers TransfersConfig `yaml:"transfers"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AgentKeyHash is the bcrypt hash of the enrollment key agents present
	// at connect time. Empty disables agent authentication (dev mode).
	AgentKeyHash string `yaml:"agent_key_hash"`
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// CommandsConfig holds command dispatch configuration
type CommandsConfig struct {
	AckTimeout       time.Duration `yaml:"-"`
	OfflinePolicy    string        `yaml:"offline_policy"` // "queue" or "drop"
	OfflineQueueSize int           `yaml:"offline_queue_size"`

	AckTimeoutRaw string `yaml:"ack_timeout"`
}

// SessionsConfig holds remote-control and terminal session configuration
type SessionsConfig struct {
	StartTimeout time.Duration `yaml:"-"`

	StartTimeoutRaw string `yaml:"start_timeout"`
}

// TransfersConfig holds file-transfer configuration
type TransfersConfig struct {
	AcceptTimeout time.Duration `yaml:"-"`

	AcceptTimeoutRaw string `yaml:"accept_timeout"`
}

// LimitsConfig holds per-console rate limits
type LimitsConfig struct {
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Agents.HeartbeatInterval == 0 {
		c.Agents.HeartbeatInterval = 15 * time.Second
	}
	if c.Agents.HeartbeatTimeout == 0 {
		c.Agents.HeartbeatTimeout = 45 * time.Second
	}
	if c.Commands.AckTimeout == 0 {
		c.Commands.AckTimeout = 30 * time.Second
	}
	if c.Commands.OfflinePolicy == "" {
		c.Commands.OfflinePolicy = "queue"
	}
	if c.Commands.OfflineQueueSize == 0 {
		c.Commands.OfflineQueueSize = 100
	}
	if c.Sessions.StartTimeout == 0 {
		c.Sessions.StartTimeout = 15 * time.Second
	}
	if c.Transfers.AcceptTimeout == 0 {
		c.Transfers.AcceptTimeout = 30 * time.Second
	}
	if c.Limits.CommandRate == 0 {
		c.Limits.CommandRate = 10
	}
	if c.Limits.CommandBurst == 0 {
		c.Limits.CommandBurst = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Commands.OfflinePolicy {
	case "queue", "drop":
	default:
		return fmt.Errorf("commands.offline_policy must be %q or %q, got %q", "queue", "drop", c.Commands.OfflinePolicy)
	}

	if c.Agents.HeartbeatTimeout <= c.Agents.HeartbeatInterval {
		return fmt.Errorf("agents.heartbeat_timeout must be greater than heartbeat_interval")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agents.heartbeat_interval", cfg.Agents.HeartbeatIntervalRaw, &cfg.Agents.HeartbeatInterval},
		{"agents.heartbeat_timeout", cfg.Agents.HeartbeatTimeoutRaw, &cfg.Agents.HeartbeatTimeout},
		{"commands.ack_timeout", cfg.Commands.AckTimeoutRaw, &cfg.Commands.AckTimeout},
		{"sessions.start_timeout", cfg.Sessions.StartTimeoutRaw, &cfg.Sessions.StartTimeout},
		{"transfers.accept_timeout", cfg.Transfers.AcceptTimeoutRaw, &cfg.Transfers.AcceptTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
