// Package admin provides REST API endpoints for managing agent permissions
// and inspecting the tool-call audit trail.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
)

const pathParamID = "id"

// AgentLister lists and resolves agents.
type AgentLister interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
	List(ctx context.Context) ([]*agent.Agent, error)
}

// StatsProvider exposes async audit delivery counters.
type StatsProvider interface {
	Stats() audit.Stats
}

// Deps holds the admin handler's collaborators.
type Deps struct {
	Catalog     *catalog.Catalog
	Agents      AgentLister
	Permissions permission.Store
	Audit       audit.Logger

	// AuditStats is optional; without it stats omit delivery counters.
	AuditStats StatsProvider
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler. authMiddle, when set, wraps
// every route.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/v1/admin/servers", h.listServers)
	h.mux.HandleFunc("GET /api/v1/admin/agents", h.listAgents)
	h.mux.HandleFunc("GET /api/v1/admin/agents/{id}/permissions", h.getPermissions)
	h.mux.HandleFunc("PUT /api/v1/admin/agents/{id}/permissions", h.putPermissions)
	h.mux.HandleFunc("GET /api/v1/admin/audit", h.listAudit)
	h.mux.HandleFunc("GET /api/v1/admin/audit/stats", h.getAuditStats)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseTimeParam(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
