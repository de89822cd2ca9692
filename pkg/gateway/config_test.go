package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/auth"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "mcp-crm-gateway", cfg.Server.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Tools.CallTimeout)
	assert.Equal(t, audit.DefaultUserContext, cfg.Audit.UserContext)
	assert.Equal(t, 20, cfg.Orchestrator.MemoryWindow)
	assert.Len(t, cfg.Servers, 7)
	assert.False(t, cfg.Session.RequireInitialize)
	assert.False(t, cfg.Auth.Enabled())
	assert.False(t, cfg.CompletionEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("CRM_TEST_DSN", "postgres://crm@db/crm")
	t.Setenv("CRM_TEST_KEY", "sk-test")

	cfg, err := ParseConfig([]byte(`
server:
  address: ":9090"
  rate_limit: 5
  heartbeat_interval: 10s
database:
  dsn: ${CRM_TEST_DSN}
session:
  require_initialize: true
  ttl: 1h
tools:
  call_timeout: 5s
servers: [tasks-server, leads-server]
completion:
  api_key: ${CRM_TEST_KEY}
auth:
  api_keys:
    - key: secret
      name: ops
      roles: [admin]
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://crm@db/crm", cfg.Database.DSN)
	assert.Equal(t, 10*time.Second, cfg.Server.HeartbeatInterval)
	assert.InDelta(t, 5.0, cfg.Server.RateLimit, 0)
	assert.True(t, cfg.Session.RequireInitialize)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Second, cfg.Tools.CallTimeout)
	assert.Equal(t, []string{catalog.TasksServer, catalog.LeadsServer}, cfg.Servers)
	assert.True(t, cfg.CompletionEnabled())
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, []string{"admin"}, cfg.Auth.APIKeys[0].Roles)
	assert.Equal(t, "http://127.0.0.1:9090", cfg.OrchestratorGatewayURL())
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("server: ["))
	assert.ErrorContains(t, err, "parsing config")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: crm\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "crm", cfg.Server.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.Server.LogLevel = "trace" }, wantErr: "server.log_level"},
		{name: "negative rate", mutate: func(c *Config) { c.Server.RateLimit = -1 }, wantErr: "server.rate_limit"},
		{name: "unknown server", mutate: func(c *Config) { c.Servers = []string{"billing-server"} }, wantErr: `unknown server "billing-server"`},
		{name: "empty api key", mutate: func(c *Config) { c.Auth.APIKeys = []auth.APIKey{{Name: "ops"}} }, wantErr: "auth.api_keys[0].key"},
		{name: "defaults", mutate: func(*Config) {}},
		{name: "issuer without key", mutate: func(c *Config) { c.Auth.JWT.Issuer = "crm" }, wantErr: "auth.jwt.signing_key"},
		{name: "seed with database", mutate: func(c *Config) {
			c.Seed = "seed.yaml"
			c.Database.DSN = "postgres://x"
		}, wantErr: "seed fixtures"},
		{name: "negative retention", mutate: func(c *Config) { c.Audit.RetentionDays = -1 }, wantErr: "audit.retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
