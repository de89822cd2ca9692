// Package session tracks MCP sessions: identity, initialize handshake state
// and the agent bound to each session. Sessions are advisory and process
// local; losing them never affects tools/call correctness.
package session

import (
	"context"
	"time"
)

// Session represents one MCP client session.
type Session struct {
	// ID is the opaque session identifier carried in Mcp-Session-Id.
	ID string

	// Initialized is set once an initialize request has been handled.
	Initialized bool

	// AgentID is the agent the client declared at initialize, if any.
	AgentID string

	// Client identifies the client software.
	Client Implementation

	// ProtocolVersion is the version negotiated at initialize.
	ProtocolVersion string

	CreatedAt    time.Time
	LastActiveAt time.Time

	// ExpiresAt is zero for sessions that never expire.
	ExpiresAt time.Time
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store defines the interface for session persistence.
type Store interface {
	// Save creates or replaces a session.
	Save(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns nil, nil if not found or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch updates LastActiveAt and extends ExpiresAt by the store's TTL.
	Touch(ctx context.Context, id string) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns all non-expired sessions.
	List(ctx context.Context) ([]*Session, error)

	// Cleanup removes expired sessions.
	Cleanup(ctx context.Context) error

	// Close stops background routines and releases resources.
	Close() error
}
