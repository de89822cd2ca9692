package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
)

// ChatPath is the route served by Handler.
const ChatPath = "POST /api/v1/chat"

// Handler serves POST /api/v1/chat.
func Handler(o *Orchestrator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		req.AgentID = strings.TrimSpace(req.AgentID)
		if req.AgentID == "" || strings.TrimSpace(req.Message) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and message are required"})
			return
		}

		reply, err := o.Chat(r.Context(), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, reply)
		case errors.Is(err, agent.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case IsRejection(err):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		default:
			slog.Error("chat turn failed", "agent_id", req.AgentID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
