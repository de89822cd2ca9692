package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/txn2/mcp-crm-gateway/pkg/admin"
	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	auditpostgres "github.com/txn2/mcp-crm-gateway/pkg/audit/postgres"
	"github.com/txn2/mcp-crm-gateway/pkg/auth"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/conversation"
	"github.com/txn2/mcp-crm-gateway/pkg/database/migrate"
	"github.com/txn2/mcp-crm-gateway/pkg/dispatch"
	"github.com/txn2/mcp-crm-gateway/pkg/health"
	"github.com/txn2/mcp-crm-gateway/pkg/orchestrator"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	permpostgres "github.com/txn2/mcp-crm-gateway/pkg/permission/postgres"
	"github.com/txn2/mcp-crm-gateway/pkg/session"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
	storepostgres "github.com/txn2/mcp-crm-gateway/pkg/store/postgres"
	"github.com/txn2/mcp-crm-gateway/pkg/tools"
	"github.com/txn2/mcp-crm-gateway/pkg/transport"
)

const (
	auditCleanupInterval = 24 * time.Hour
	minSessionSweep      = time.Minute
)

// Options holds optional dependencies that override what New would build
// from configuration.
type Options struct {
	DB          *sql.DB
	Completer   orchestrator.Completer
	ToolGateway orchestrator.ToolGateway
}

// Option configures a Gateway.
type Option func(*Options)

// WithDB uses an existing database connection instead of database.dsn.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.DB = db }
}

// WithCompleter enables the chat endpoint with the given completer.
func WithCompleter(c orchestrator.Completer) Option {
	return func(o *Options) { o.Completer = c }
}

// WithToolGateway replaces the orchestrator's MCP client.
func WithToolGateway(g orchestrator.ToolGateway) Option {
	return func(o *Options) { o.ToolGateway = g }
}

// Gateway is the assembled service: one MCP endpoint per enabled catalog
// server plus health, admin and chat routes.
type Gateway struct {
	cfg         *Config
	db          *sql.DB
	catalog     *catalog.Catalog
	entities    store.Adapter
	agents      *agent.Store
	permissions permission.Store
	audit       *audit.AsyncLogger
	sessions    *session.Manager
	health      *health.Checker
	chat        *orchestrator.Orchestrator
	handler     http.Handler

	closers []func() error
}

// New builds a gateway from cfg.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	g := &Gateway{cfg: cfg, health: health.NewChecker()}
	if err := g.init(ctx, o); err != nil {
		_ = g.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) init(ctx context.Context, o *Options) error {
	cat, err := catalog.Default().Subset(g.cfg.Servers)
	if err != nil {
		return fmt.Errorf("selecting servers: %w", err)
	}
	g.catalog = cat

	if err := g.initDatabase(ctx, o.DB); err != nil {
		return err
	}
	sink, err := g.initStores(ctx)
	if err != nil {
		return err
	}
	g.audit = audit.NewAsyncLogger(sink, g.cfg.Audit.BufferSize)
	g.closers = append(g.closers, g.audit.Close)

	g.initSessions()

	authn, err := g.createAuthenticator()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	g.mountMCP(mux, authn)
	g.mountHealth(mux)
	g.mountAdmin(mux, authn)
	g.mountChat(mux, authn, o)
	g.handler = mux
	return nil
}

func (g *Gateway) initDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil && g.cfg.Database.DSN == "" {
		return nil
	}
	if db == nil {
		var err error
		db, err = sql.Open("postgres", g.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(g.cfg.Database.MaxOpenConns)
		g.closers = append(g.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
	}
	g.db = db

	if g.cfg.Database.AutoMigrate {
		if err := migrate.Run(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}
	g.health.AddProbe("database", db.PingContext)
	return nil
}

// initStores picks the entity, permission and audit backends and returns
// the audit sink.
func (g *Gateway) initStores(ctx context.Context) (audit.Logger, error) {
	if g.db != nil {
		g.entities = storepostgres.New(g.db)
		g.permissions = permpostgres.New(g.db)
		g.agents = agent.NewStore(g.entities)
		if !g.cfg.Audit.Enabled {
			slog.Info("audit persistence disabled; records kept in memory")
			return audit.NewMemoryLogger(), nil
		}
		sink := auditpostgres.New(g.db, auditpostgres.Config{RetentionDays: g.cfg.Audit.RetentionDays})
		sink.StartCleanupRoutine(auditCleanupInterval)
		return sink, nil
	}

	g.entities = store.NewMemoryStore()
	g.permissions = permission.NewMemoryStore()
	g.agents = agent.NewStore(g.entities)
	if g.cfg.Seed != "" {
		seed, err := LoadSeed(g.cfg.Seed)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, g.entities, g.agents, g.permissions); err != nil {
			return nil, err
		}
		slog.Info("seed fixtures loaded", "path", g.cfg.Seed, "agents", len(seed.Agents), "tables", len(seed.Tables))
	}
	return audit.NewMemoryLogger(), nil
}

func (g *Gateway) initSessions() {
	st := session.NewMemoryStore(g.cfg.Session.TTL)
	if ttl := g.cfg.Session.TTL; ttl > 0 {
		st.StartCleanupRoutine(max(ttl/2, minSessionSweep))
	}
	g.closers = append(g.closers, st.Close)
	g.sessions = session.NewManager(st, session.Config{
		TTL:               g.cfg.Session.TTL,
		RequireInitialize: g.cfg.Session.RequireInitialize,
	})
}

// createAuthenticator returns nil when no authentication is configured.
func (g *Gateway) createAuthenticator() (auth.Authenticator, error) {
	if !g.cfg.Auth.Enabled() {
		return nil, nil //nolint:nilnil // nil authenticator leaves routes open
	}
	var authenticators []auth.Authenticator
	if len(g.cfg.Auth.APIKeys) > 0 {
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(g.cfg.Auth.APIKeys))
	}
	if g.cfg.Auth.JWT.SigningKey != "" {
		j, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     g.cfg.Auth.JWT.Issuer,
			SigningKey: g.cfg.Auth.JWT.SigningKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		authenticators = append(authenticators, j)
	}
	return auth.NewChain(g.cfg.Auth.AllowAnonymous, authenticators...), nil
}

// protect wraps h with authentication. CORS preflights pass through.
func protect(authn auth.Authenticator, h http.Handler) http.Handler {
	if authn == nil {
		return h
	}
	authed := auth.Middleware(authn)(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

func (g *Gateway) mountMCP(mux *http.ServeMux, authn auth.Authenticator) {
	deps := dispatch.Deps{
		Sessions:    g.sessions,
		Agents:      g.agents,
		Permissions: permission.NewRegistry(g.permissions),
		Executor:    tools.NewExecutor(g.entities),
		Audit:       g.audit,
	}
	dcfg := dispatch.Config{
		CallTimeout: g.cfg.Tools.CallTimeout,
		UserContext: g.cfg.Audit.UserContext,
	}

	servers := g.catalog.Servers()
	dispatchers := make([]*dispatch.Dispatcher, 0, len(servers))
	for _, s := range servers {
		dispatchers = append(dispatchers, dispatch.New(s, deps, dcfg))
	}

	mcpMux := http.NewServeMux()
	transport.Mount(mcpMux, dispatchers, g.sessions, transport.Config{
		HeartbeatInterval: g.cfg.Server.HeartbeatInterval,
		RateLimit:         g.cfg.Server.RateLimit,
		RateBurst:         g.cfg.Server.RateBurst,
		MaxBodyBytes:      g.cfg.Server.MaxBodyBytes,
	})
	mux.Handle("/mcp/", protect(authn, mcpMux))
}

func (g *Gateway) mountHealth(mux *http.ServeMux) {
	names := make([]string, 0, len(g.catalog.Servers()))
	for _, s := range g.catalog.Servers() {
		names = append(names, s.Name)
	}
	g.health.AddDetail("servers", func(context.Context) any { return names })
	g.health.AddDetail("audit", func(context.Context) any { return g.audit.Stats() })

	mux.Handle("GET /healthz", g.health.LivenessHandler())
	mux.Handle("GET /readyz", g.health.ReadinessHandler())
}

func (g *Gateway) mountAdmin(mux *http.ServeMux, authn auth.Authenticator) {
	var authMiddle func(http.Handler) http.Handler
	if authn != nil {
		requireAdmin := auth.RequireRole(g.cfg.Auth.AdminRole)
		authMiddle = func(h http.Handler) http.Handler {
			return auth.Middleware(authn)(requireAdmin(h))
		}
	}
	mux.Handle("/api/v1/admin/", admin.NewHandler(admin.Deps{
		Catalog:     g.catalog,
		Agents:      g.agents,
		Permissions: g.permissions,
		Audit:       g.audit,
		AuditStats:  g.audit,
	}, authMiddle))
}

func (g *Gateway) mountChat(mux *http.ServeMux, authn auth.Authenticator, o *Options) {
	completer := o.Completer
	if completer == nil && g.cfg.CompletionEnabled() {
		c, err := orchestrator.NewOpenAICompleter(orchestrator.OpenAIConfig{
			BaseURL:    g.cfg.Completion.BaseURL,
			APIKey:     g.cfg.Completion.APIKey,
			MaxRetries: g.cfg.Completion.MaxRetries,
			Timeout:    g.cfg.Completion.Timeout,
		})
		if err != nil {
			slog.Warn("chat endpoint disabled", "error", err)
			return
		}
		completer = c
	}
	if completer == nil {
		slog.Info("chat endpoint disabled; no completion provider configured")
		return
	}

	toolGateway := o.ToolGateway
	if toolGateway == nil {
		toolGateway = orchestrator.NewMCPGateway(orchestrator.MCPGatewayConfig{
			BaseURL:       g.cfg.OrchestratorGatewayURL(),
			APIKey:        g.cfg.Orchestrator.GatewayAPIKey,
			ClientVersion: g.cfg.Server.Version,
		})
	}

	g.chat = orchestrator.New(g.agents, conversation.NewStore(g.entities), completer, toolGateway, g.catalog,
		orchestrator.Config{
			MemoryWindow: g.cfg.Orchestrator.MemoryWindow,
			DefaultModel: g.cfg.Completion.DefaultModel,
		})
	mux.Handle(orchestrator.ChatPath, protect(authn, orchestrator.Handler(g.chat)))
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Config returns the gateway configuration.
func (g *Gateway) Config() *Config {
	return g.cfg
}

// Health returns the readiness state machine.
func (g *Gateway) Health() *health.Checker {
	return g.health
}

// Chat returns the orchestrator, or nil when no completion provider is set.
func (g *Gateway) Chat() *orchestrator.Orchestrator {
	return g.chat
}

// Agents returns the agent store.
func (g *Gateway) Agents() *agent.Store {
	return g.agents
}

// Permissions returns the permission store.
func (g *Gateway) Permissions() permission.Store {
	return g.permissions
}

// Audit returns the audit logger.
func (g *Gateway) Audit() *audit.AsyncLogger {
	return g.audit
}

// Close releases resources in reverse order of acquisition.
func (g *Gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}
