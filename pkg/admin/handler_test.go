package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

type fixture struct {
	h     *Handler
	perms *permission.MemoryStore
	log   *audit.MemoryLogger
}

type fixedStats struct{}

func (fixedStats) Stats() audit.Stats { return audit.Stats{Written: 4, Dropped: 1} }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	agents := agent.NewStore(store.NewMemoryStore())
	_, err := agents.Create(ctx, agent.Agent{ID: "agent-1", Name: "Sales Bot"})
	require.NoError(t, err)

	perms := permission.NewMemoryStore()
	log := audit.NewMemoryLogger()
	for _, r := range []struct {
		agentID string
		module  string
		result  audit.Result
	}{
		{"agent-1", catalog.TasksServer, audit.ResultSuccess},
		{"agent-1", catalog.TasksServer, audit.ResultDenied},
		{"agent-2", catalog.LeadsServer, audit.ResultError},
	} {
		rec := audit.NewRecord(r.module, "get_x").WithAgent(r.agentID, r.agentID).WithResult(r.result, "", 1)
		require.NoError(t, log.Log(ctx, *rec))
	}

	h := NewHandler(Deps{
		Catalog:     catalog.Default(),
		Agents:      agents,
		Permissions: perms,
		Audit:       log,
		AuditStats:  fixedStats{},
	}, nil)
	return &fixture{h: h, perms: perms, log: log}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	return w
}

func TestListServers(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/admin/servers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body []serverResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body, 7)
	assert.Equal(t, catalog.TasksServer, body[0].Name)
	assert.Contains(t, body[0].Tools, "create_recurring_task")
}

func TestListAgents(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/admin/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Sales Bot"`)
}

func TestPermissionsRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/admin/agents/agent-1/permissions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent_id":"agent-1","permissions":{}}`, w.Body.String())

	w = f.do(http.MethodPut, "/api/v1/admin/agents/agent-1/permissions",
		`{"tasks-server":{"enabled":true,"tools":["get_tasks","create_task"]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	m, err := f.perms.GetPermissions(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, m.Allows(catalog.TasksServer, "create_task"))
	assert.False(t, m.Allows(catalog.TasksServer, "delete_task"))

	w = f.do(http.MethodGet, "/api/v1/admin/agents/agent-1/permissions", "")
	assert.JSONEq(t, `{"agent_id":"agent-1","permissions":{"tasks-server":{"enabled":true,"tools":["get_tasks","create_task"]}}}`, w.Body.String())
}

func TestPutPermissionsValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
		code int
		msg  string
	}{
		{"unknown agent", "/api/v1/admin/agents/ghost/permissions", `{}`, http.StatusNotFound, "agent not found"},
		{"not an object", "/api/v1/admin/agents/agent-1/permissions", `[1]`, http.StatusBadRequest, "body must be"},
		{"null", "/api/v1/admin/agents/agent-1/permissions", `null`, http.StatusBadRequest, "body must be"},
		{"unknown server", "/api/v1/admin/agents/agent-1/permissions", `{"billing-server":{"enabled":true,"tools":[]}}`, http.StatusBadRequest, `unknown server "billing-server"`},
		{"unknown tool", "/api/v1/admin/agents/agent-1/permissions", `{"leads-server":{"enabled":true,"tools":["get_tasks"]}}`, http.StatusBadRequest, `unknown tool "get_tasks" on leads-server`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.msg)
		})
	}

	m, err := f.perms.GetPermissions(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

type malformedPerms struct{ permission.MemoryStore }

func (*malformedPerms) GetPermissions(context.Context, string) (permission.Matrix, error) {
	return nil, permission.ErrMalformed
}

type failingAgents struct{}

func (failingAgents) Get(context.Context, string) (*agent.Agent, error) {
	return nil, errors.New("db down")
}

func (failingAgents) List(context.Context) ([]*agent.Agent, error) {
	return nil, errors.New("db down")
}

func TestPermissionsErrors(t *testing.T) {
	f := newFixture(t)
	f.h.deps.Permissions = &malformedPerms{}
	w := f.do(http.MethodGet, "/api/v1/admin/agents/agent-1/permissions", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	f.h.deps.Agents = failingAgents{}
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/v1/admin/agents/agent-1/permissions", "").Code)
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/v1/admin/agents", "").Code)
}

func TestListAudit(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/admin/audit?agent_id=agent-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body auditListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Len(t, body.Data, 2)
	assert.Equal(t, defaultAuditLimit, body.Limit)

	w = f.do(http.MethodGet, "/api/v1/admin/audit?result=Denied&limit=9999", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, audit.ResultDenied, body.Data[0].Result)
	assert.Equal(t, maxAuditLimit, body.Limit)

	w = f.do(http.MethodGet, "/api/v1/admin/audit?limit=1&offset=1", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Len(t, body.Data, 1)

	w = f.do(http.MethodGet, "/api/v1/admin/audit?result=Maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditStats(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/admin/audit/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total    int            `json:"total"`
		Success  int            `json:"success"`
		Error    int            `json:"error"`
		Denied   int            `json:"denied"`
		ByModule map[string]int `json:"by_module"`
		Delivery *audit.Stats   `json:"delivery"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 1, body.Success)
	assert.Equal(t, 1, body.Error)
	assert.Equal(t, 1, body.Denied)
	assert.Equal(t, 2, body.ByModule[catalog.TasksServer])
	require.NotNil(t, body.Delivery)
	assert.EqualValues(t, 4, body.Delivery.Written)
}

func TestAuthMiddlewareWraps(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.h.deps, func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/servers", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
