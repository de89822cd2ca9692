package admin

import (
	"errors"
	"net/http"

	"github.com/txn2/mcp-crm-gateway/pkg/audit"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// auditListResponse wraps a page of audit records.
type auditListResponse struct {
	Data   []audit.Record `json:"data"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// auditStatsResponse holds aggregate audit statistics and, when the
// logger is asynchronous, its delivery counters.
type auditStatsResponse struct {
	*audit.Summary
	Delivery *audit.Stats `json:"delivery,omitempty"`
}

func auditFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	f := audit.QueryFilter{
		AgentID:   q.Get("agent_id"),
		Module:    q.Get("module"),
		Action:    q.Get("action"),
		Result:    audit.Result(q.Get("result")),
		StartTime: parseTimeParam(q.Get("start_time")),
		EndTime:   parseTimeParam(q.Get("end_time")),
	}
	if f.Result != "" && !f.Result.Valid() {
		return f, errors.New("result must be one of Success, Error, Denied")
	}
	return f, nil
}

// listAudit handles GET /api/v1/admin/audit.
func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter.Limit = min(parseIntParam(q.Get("limit"), defaultAuditLimit), maxAuditLimit)
	if filter.Limit == 0 {
		filter.Limit = defaultAuditLimit
	}
	filter.Offset = parseIntParam(q.Get("offset"), 0)

	records, err := h.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit records")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, auditListResponse{Data: records, Limit: filter.Limit, Offset: filter.Offset})
}

// getAuditStats handles GET /api/v1/admin/audit/stats.
func (h *Handler) getAuditStats(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := auditStatsResponse{Summary: &audit.Summary{ByModule: map[string]int{}}}
	if s, ok := h.deps.Audit.(audit.Summarizer); ok {
		sum, err := s.Summary(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to summarize audit records")
			return
		}
		if sum != nil {
			resp.Summary = sum
		}
	}
	if h.deps.AuditStats != nil {
		stats := h.deps.AuditStats.Stats()
		resp.Delivery = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
