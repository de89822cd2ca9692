package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/dispatch"
	"github.com/txn2/mcp-crm-gateway/pkg/jsonrpc"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	"github.com/txn2/mcp-crm-gateway/pkg/session"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
	"github.com/txn2/mcp-crm-gateway/pkg/tools"
)

type harness struct {
	mux      *http.ServeMux
	sessions *session.Manager
	audit    *audit.MemoryLogger
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	db := store.NewMemoryStore()
	db.Seed("tasks",
		store.Row{"task_id": "TASK0001", "title": "call back", "status": "To Do"},
		store.Row{"task_id": "TASK0002", "title": "send quote", "status": "Done"},
	)
	agents := agent.NewStore(db)
	_, err := agents.Create(ctx, agent.Agent{ID: "agent-1", Name: "Bot", IsActive: true, MCPEnabled: true})
	require.NoError(t, err)
	perms := permission.NewMemoryStore()
	require.NoError(t, perms.SetPermissions(ctx, "agent-1", permission.Matrix{
		catalog.TasksServer: {Enabled: true, Tools: []string{"get_tasks"}},
	}))

	logger := audit.NewMemoryLogger()
	sessions := session.NewManager(session.NewMemoryStore(0), session.Config{})
	deps := dispatch.Deps{
		Sessions:    sessions,
		Agents:      agents,
		Permissions: permission.NewRegistry(perms),
		Executor:    tools.NewExecutor(db),
		Audit:       logger,
	}
	var dispatchers []*dispatch.Dispatcher
	for _, s := range catalog.Default().Servers() {
		dispatchers = append(dispatchers, dispatch.New(s, deps, dispatch.Config{}))
	}
	mux := http.NewServeMux()
	Mount(mux, dispatchers, sessions, cfg)
	return &harness{mux: mux, sessions: sessions, audit: logger}
}

func (h *harness) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	return rr
}

var sessionIDPattern = regexp.MustCompile(`^\d{13}-[0-9A-Za-z]{22}$`)

func TestOptionsPreflight(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodOptions, "/mcp/tasks-server", "", nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Mcp-Session-Id")
}

func TestPostSingleMessage(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	id := rr.Header().Get(session.HeaderName)
	assert.Regexp(t, sessionIDPattern, id)
	assert.True(t, h.sessions.IsInitialized(context.Background(), id))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["id"])
	assert.Equal(t, "tasks-server", resp["result"].(map[string]any)["serverInfo"].(map[string]any)["name"])
}

func TestPostEchoesSessionHeader(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{session.HeaderName: "client-chosen"})
	assert.Equal(t, "client-chosen", rr.Header().Get(session.HeaderName))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, rr.Body.String())
}

func TestPostBatchPreservesOrder(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `[
		{"jsonrpc":"2.0","id":"a","method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":"b","method":"bogus"},
		{"jsonrpc":"2.0","id":"c","method":"tools/call","params":{"name":"get_tasks","arguments":{"agent_id":"agent-1","status":"Done"}}}
	]`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var out []jsonrpc.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 3)
	assert.JSONEq(t, `"a"`, string(out[0].ID))
	assert.JSONEq(t, `"b"`, string(out[1].ID))
	require.NotNil(t, out[1].Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, out[1].Error.Code)
	assert.JSONEq(t, `"c"`, string(out[2].ID))
	assert.Nil(t, out[2].Error)
	assert.Len(t, h.audit.Records(), 1)
}

func TestPostSingleElementArrayStaysArray(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `[{"jsonrpc":"2.0","id":9,"method":"ping"}]`, nil)
	assert.JSONEq(t, `[{"jsonrpc":"2.0","id":9,"result":{}}]`, rr.Body.String())
}

func TestPostNotificationsOnly(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(session.HeaderName))
}

func TestPostParseError(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `{"jsonrpc":`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)
}

func TestPostBodyTooLarge(t *testing.T) {
	h := newHarness(t, Config{MaxBodyBytes: 16})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func readEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			events = append(events, data)
		}
	}
	return events
}

func TestPostEventStream(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_tasks","arguments":{"agent_id":"agent-1","status":"To Do"}}}
	]`, map[string]string{"Accept": "application/json, text/event-stream"})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rr.Body.String(), "\n\n"))

	events := readEvents(t, rr.Body.String())
	require.Len(t, events, 2)
	for i, ev := range events {
		var resp jsonrpc.Response
		require.NoError(t, json.Unmarshal([]byte(ev), &resp))
		assert.JSONEq(t, string(rune('1'+i)), string(resp.ID))
		assert.Nil(t, resp.Error)
	}
}

type crashingDispatcher struct{ calls int }

func (c *crashingDispatcher) Handle(_ context.Context, _ string, env jsonrpc.Envelope) *jsonrpc.Response {
	c.calls++
	if c.calls == 2 {
		panic("boom")
	}
	return jsonrpc.NewResult(env.ID(), map[string]any{})
}

func TestEventStreamStopsAfterCrash(t *testing.T) {
	d := &crashingDispatcher{}
	sessions := session.NewManager(session.NewMemoryStore(0), session.Config{})
	h := NewHandler(d, sessions, Config{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"},{"jsonrpc":"2.0","id":3,"method":"c"}]`))
	req.Header.Set("Accept", "text/event-stream")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	events := readEvents(t, rr.Body.String())
	require.Len(t, events, 2)
	assert.Contains(t, events[1], `"code":-32603`)
	assert.Equal(t, 2, d.calls)
}

func TestDeleteTerminatesSession(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/tasks-server", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	id := rr.Header().Get(session.HeaderName)
	require.NotNil(t, h.sessions.Get(context.Background(), id))

	rr = h.do(http.MethodDelete, "/mcp/tasks-server", "", map[string]string{session.HeaderName: id})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, h.sessions.Get(context.Background(), id))

	rr = h.do(http.MethodDelete, "/mcp/tasks-server", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPut, "/mcp/tasks-server", "{}", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(session.HeaderName))
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "PUT")
}

func TestUserContextHeader(t *testing.T) {
	h := newHarness(t, Config{})
	h.do(http.MethodPost, "/mcp/tasks-server",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_tasks","arguments":{"agent_id":"agent-1"}}}`,
		map[string]string{UserContextHeader: "+919822222222"})

	records := h.audit.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "+919822222222", records[0].UserContext)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 1, RateBurst: 2})
	header := map[string]string{session.HeaderName: "s-1"}
	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/mcp/tasks-server", body, header).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/mcp/tasks-server", body, header).Code)
	rr := h.do(http.MethodPost, "/mcp/tasks-server", body, header)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":-32029`)

	other := map[string]string{session.HeaderName: "s-2"}
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/mcp/tasks-server", body, other).Code)
}

func TestSessionLimiterPrunesIdle(t *testing.T) {
	l := newSessionLimiter(1, 1)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	for i := range limiterPruneLen {
		l.allow(string(rune('a' + i%26)) + string(rune(i)))
	}
	assert.Len(t, l.entries, limiterPruneLen)

	now = now.Add(limiterIdleTTL + time.Second)
	l.allow("fresh")
	assert.Len(t, l.entries, 1)
}

func TestHeartbeatStream(t *testing.T) {
	h := newHarness(t, Config{HeartbeatInterval: 5 * time.Millisecond})
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/tasks-server", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(session.HeaderName))

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, ": heartbeat", sc.Text())
}

func TestUnknownServerPath(t *testing.T) {
	h := newHarness(t, Config{})
	rr := h.do(http.MethodPost, "/mcp/billing-server", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
