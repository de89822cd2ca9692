// Package gateway assembles the CRM MCP gateway from configuration.
package gateway

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/auth"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Session      SessionConfig      `yaml:"session"`
	Audit        audit.Config       `yaml:"audit"`
	Tools        ToolsConfig        `yaml:"tools"`
	Auth         AuthConfig         `yaml:"auth"`
	Servers      []string           `yaml:"servers"`
	Completion   CompletionConfig   `yaml:"completion"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Seed is a fixtures file loaded into the in-memory stores.
	Seed string `yaml:"seed"`
}

// ServerConfig configures the HTTP listener and transport.
type ServerConfig struct {
	Name              string        `yaml:"name"`
	Version           string        `yaml:"version"`
	Address           string        `yaml:"address"`
	LogLevel          string        `yaml:"log_level"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RateLimit         float64       `yaml:"rate_limit"` // requests per second per session, 0 disables
	RateBurst         int           `yaml:"rate_burst"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the database connection. An empty DSN keeps
// every store in memory.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// SessionConfig configures MCP sessions.
type SessionConfig struct {
	RequireInitialize bool          `yaml:"require_initialize"`
	TTL               time.Duration `yaml:"ttl"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// AuthConfig configures authentication. With no keys and no JWT key the
// gateway is open.
type AuthConfig struct {
	APIKeys        []auth.APIKey `yaml:"api_keys"`
	JWT            JWTConfig     `yaml:"jwt"`
	AllowAnonymous bool          `yaml:"allow_anonymous"`
	AdminRole      string        `yaml:"admin_role"`
}

// JWTConfig configures HS256 bearer tokens.
type JWTConfig struct {
	Issuer     string `yaml:"issuer"`
	SigningKey string `yaml:"signing_key"`
}

// Enabled reports whether any authenticator is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWT.SigningKey != ""
}

// CompletionConfig configures the chat-completion provider.
type CompletionConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// OrchestratorConfig configures the agent chat loop.
type OrchestratorConfig struct {
	MemoryWindow int `yaml:"memory_window"`

	// GatewayURL is where the orchestrator reaches the MCP endpoints.
	// Empty derives a loopback URL from server.address.
	GatewayURL string `yaml:"gateway_url"`

	// GatewayAPIKey is sent to the MCP endpoints when auth is enabled.
	GatewayAPIKey string `yaml:"gateway_api_key"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-crm-gateway"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = catalog.ServerVersion
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1024
	}
	if cfg.Audit.UserContext == "" {
		cfg.Audit.UserContext = audit.DefaultUserContext
	}
	if cfg.Tools.CallTimeout == 0 {
		cfg.Tools.CallTimeout = 30 * time.Second
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if len(cfg.Servers) == 0 {
		for _, s := range catalog.Default().Servers() {
			cfg.Servers = append(cfg.Servers, s.Name)
		}
	}
	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = 30 * time.Second
	}
	if cfg.Completion.MaxRetries == 0 {
		cfg.Completion.MaxRetries = 3
	}
	if cfg.Orchestrator.MemoryWindow == 0 {
		cfg.Orchestrator.MemoryWindow = 20
	}
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(logLevels, strings.ToLower(c.Server.LogLevel)) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %s", strings.Join(logLevels, ", ")))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Tools.CallTimeout < 0 {
		errs = append(errs, "tools.call_timeout must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	def := catalog.Default()
	for _, name := range c.Servers {
		if _, ok := def.Server(name); !ok {
			errs = append(errs, fmt.Sprintf("servers: unknown server %q", name))
		}
	}

	for i, k := range c.Auth.APIKeys {
		if k.Key == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d].key is required", i))
		}
	}
	if c.Auth.JWT.Issuer != "" && c.Auth.JWT.SigningKey == "" {
		errs = append(errs, "auth.jwt.signing_key is required when an issuer is set")
	}

	if c.Seed != "" && c.Database.DSN != "" {
		errs = append(errs, "seed fixtures only apply to the in-memory backend; unset database.dsn or seed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CompletionEnabled reports whether the chat endpoint can be served.
func (c *Config) CompletionEnabled() bool {
	return c.Completion.APIKey != ""
}

// OrchestratorGatewayURL returns the URL the orchestrator dials for MCP.
func (c *Config) OrchestratorGatewayURL() string {
	if c.Orchestrator.GatewayURL != "" {
		return c.Orchestrator.GatewayURL
	}
	addr := c.Server.Address
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
