package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
)

// serverResponse describes one catalog server for permission editing.
type serverResponse struct {
	Name   string   `json:"name"`
	Domain string   `json:"domain"`
	Title  string   `json:"title"`
	Tools  []string `json:"tools"`
}

// listServers handles GET /api/v1/admin/servers.
func (h *Handler) listServers(w http.ResponseWriter, _ *http.Request) {
	servers := h.deps.Catalog.Servers()
	out := make([]serverResponse, 0, len(servers))
	for _, s := range servers {
		out = append(out, serverResponse{Name: s.Name, Domain: s.Domain, Title: s.Title, Tools: s.ToolNames()})
	}
	writeJSON(w, http.StatusOK, out)
}

// listAgents handles GET /api/v1/admin/agents.
func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.deps.Agents.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// permissionsResponse is the body of the permissions endpoints.
type permissionsResponse struct {
	AgentID     string            `json:"agent_id"`
	Permissions permission.Matrix `json:"permissions"`
}

// getPermissions handles GET /api/v1/admin/agents/{id}/permissions.
// An agent without a matrix gets an empty one.
func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(pathParamID)
	if !h.agentExists(w, r, id) {
		return
	}

	m, err := h.deps.Permissions.GetPermissions(r.Context(), id)
	if errors.Is(err, permission.ErrMalformed) {
		writeError(w, http.StatusConflict, "stored permissions are malformed; replace them with PUT")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load permissions")
		return
	}
	if m == nil {
		m = permission.Matrix{}
	}
	writeJSON(w, http.StatusOK, permissionsResponse{AgentID: id, Permissions: m})
}

// putPermissions handles PUT /api/v1/admin/agents/{id}/permissions,
// replacing the agent's matrix after validating it against the catalog.
func (h *Handler) putPermissions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(pathParamID)
	if !h.agentExists(w, r, id) {
		return
	}

	var m permission.Matrix
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m == nil {
		writeError(w, http.StatusBadRequest, "body must be an object of {server: {enabled, tools}}")
		return
	}
	if problems := h.validateMatrix(m); len(problems) > 0 {
		writeError(w, http.StatusBadRequest, strings.Join(problems, "; "))
		return
	}

	if err := h.deps.Permissions.SetPermissions(r.Context(), id, m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save permissions")
		return
	}
	slog.Info("agent permissions replaced", "agent_id", id, "servers", len(m))
	writeJSON(w, http.StatusOK, permissionsResponse{AgentID: id, Permissions: m})
}

func (h *Handler) validateMatrix(m permission.Matrix) []string {
	var problems []string
	for name, entry := range m {
		s, ok := h.deps.Catalog.Server(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown server %q", name))
			continue
		}
		known := s.ToolNames()
		for _, tool := range entry.Tools {
			if !slices.Contains(known, tool) {
				problems = append(problems, fmt.Sprintf("unknown tool %q on %s", tool, name))
			}
		}
	}
	slices.Sort(problems)
	return problems
}

func (h *Handler) agentExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := h.deps.Agents.Get(r.Context(), id)
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load agent")
		return false
	}
	return true
}
