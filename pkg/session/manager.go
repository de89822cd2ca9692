package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// HeaderName is the HTTP header carrying the session id.
const HeaderName = "Mcp-Session-Id"

// DefaultProtocolVersion is answered when the client asks for a version the
// gateway does not know.
const DefaultProtocolVersion = "2024-11-05"

// SupportedProtocolVersions are echoed back when a client requests them.
var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	"2025-06-18",
	"2025-11-25",
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams are the params of an initialize request. AgentID is an
// optional extension binding the session to an agent.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      Implementation `json:"clientInfo"`
	AgentID         string         `json:"agent_id,omitempty"`
}

// Capabilities is the fixed server capability descriptor.
type Capabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
	Prompts   struct{} `json:"prompts"`
}

// InitializeResult is returned by initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// Config configures a Manager.
type Config struct {
	// TTL extends a session on every use. Zero keeps sessions until
	// terminated or the process exits.
	TTL time.Duration

	// RequireInitialize rejects post-initialize methods on sessions that
	// never completed initialize.
	RequireInitialize bool
}

// Manager owns the session lifecycle on top of a Store. Store failures are
// logged and otherwise ignored: sessions are advisory.
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, cfg Config) *Manager {
	return &Manager{store: store, cfg: cfg, now: time.Now}
}

// RequireInitialize reports whether initialize is enforced.
func (m *Manager) RequireInitialize() bool {
	return m.cfg.RequireInitialize
}

// NewID returns a fresh session id: unix millis and a random suffix.
func NewID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), shortuuid.New())
}

// CreateOrResume returns headerID unchanged when present, recording it if
// this process has not seen it. Otherwise a new session is created.
func (m *Manager) CreateOrResume(ctx context.Context, headerID string) string {
	now := m.now()
	if headerID != "" {
		sess, err := m.store.Get(ctx, headerID)
		if err != nil {
			slog.Warn("session lookup failed", "session_id", headerID, "error", err)
			return headerID
		}
		if sess != nil {
			_ = m.store.Touch(ctx, headerID)
			return headerID
		}
		m.save(ctx, m.newSession(headerID, now))
		return headerID
	}

	id := NewID(now)
	m.save(ctx, m.newSession(id, now))
	return id
}

func (m *Manager) newSession(id string, now time.Time) *Session {
	sess := &Session{ID: id, CreatedAt: now, LastActiveAt: now}
	if m.cfg.TTL > 0 {
		sess.ExpiresAt = now.Add(m.cfg.TTL)
	}
	return sess
}

func (m *Manager) save(ctx context.Context, sess *Session) {
	if err := m.store.Save(ctx, sess); err != nil {
		slog.Warn("session save failed", "session_id", sess.ID, "error", err)
	}
}

// Initialize marks the session initialized and returns the capability
// descriptor for server. It always succeeds.
func (m *Manager) Initialize(ctx context.Context, id string, params InitializeParams, server Implementation) InitializeResult {
	version := DefaultProtocolVersion
	if slices.Contains(SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	now := m.now()
	sess, err := m.store.Get(ctx, id)
	if err != nil || sess == nil {
		sess = m.newSession(id, now)
	}
	sess.Initialized = true
	sess.AgentID = params.AgentID
	sess.Client = params.ClientInfo
	sess.ProtocolVersion = version
	sess.LastActiveAt = now
	m.save(ctx, sess)

	slog.Debug("session initialized",
		"session_id", id,
		"client", params.ClientInfo.Name,
		"protocol_version", version,
		"agent_id", params.AgentID,
	)

	return InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      server,
	}
}

// IsInitialized reports whether initialize was observed for id.
func (m *Manager) IsInitialized(ctx context.Context, id string) bool {
	sess, err := m.store.Get(ctx, id)
	return err == nil && sess != nil && sess.Initialized
}

// Get returns the session, or nil when unknown.
func (m *Manager) Get(ctx context.Context, id string) *Session {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil
	}
	return sess
}

// Terminate forgets the session.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count(ctx context.Context) int {
	list, err := m.store.List(ctx)
	if err != nil {
		return 0
	}
	return len(list)
}
