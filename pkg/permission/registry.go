package permission

import (
	"context"
	"fmt"
	"log/slog"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Registry answers whether an agent may invoke a tool. It reads the store on
// every call so matrix changes apply to the next invocation.
type Registry struct {
	store Store
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Check evaluates the agent's matrix for tool on server. Missing rows,
// malformed rows and store failures all deny.
func (r *Registry) Check(ctx context.Context, agentID, server, tool string) Decision {
	if agentID == "" {
		return Decision{Reason: "permission denied: no agent identity"}
	}

	m, err := r.store.GetPermissions(ctx, agentID)
	if err != nil {
		slog.Warn("permission lookup failed, denying", "agent_id", agentID, "error", err)
		return Decision{Reason: "permission denied: permissions unavailable for this agent"}
	}
	if m == nil {
		return Decision{Reason: "permission denied: no permissions configured for this agent"}
	}

	entry, ok := m[server]
	switch {
	case !ok:
		return Decision{Reason: fmt.Sprintf("permission denied: agent has no access to %s", server)}
	case !entry.Enabled:
		return Decision{Reason: fmt.Sprintf("permission denied: %s is disabled for this agent", server)}
	case !entry.Allows(tool):
		return Decision{Reason: fmt.Sprintf("permission denied: agent is not allowed to use %s", tool)}
	}
	return Decision{Allowed: true}
}

// IsAllowed reports whether agentID may invoke tool on server.
func (r *Registry) IsAllowed(ctx context.Context, agentID, server, tool string) bool {
	return r.Check(ctx, agentID, server, tool).Allowed
}
