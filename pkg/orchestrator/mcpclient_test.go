package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/agent"
	"github.com/txn2/mcp-crm-gateway/pkg/audit"
	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/dispatch"
	"github.com/txn2/mcp-crm-gateway/pkg/permission"
	"github.com/txn2/mcp-crm-gateway/pkg/session"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
	"github.com/txn2/mcp-crm-gateway/pkg/tools"
	"github.com/txn2/mcp-crm-gateway/pkg/transport"
)

func startGateway(t *testing.T) (*httptest.Server, *audit.MemoryLogger) {
	t.Helper()
	ctx := context.Background()
	db := store.NewMemoryStore()
	db.Seed("tasks", store.Row{"task_id": "TASK0001", "title": "call back", "status": "To Do"})
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
	s, _ := catalog.Default().Server(catalog.TasksServer)
	mux := http.NewServeMux()
	transport.Mount(mux, []*dispatch.Dispatcher{dispatch.New(s, deps, dispatch.Config{})}, sessions, transport.Config{})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, logger
}

func TestMCPGateway_RoundTrip(t *testing.T) {
	srv, logger := startGateway(t)
	gw := NewMCPGateway(MCPGatewayConfig{BaseURL: srv.URL + "/"})

	ctx := context.Background()
	sess, err := gw.Open(ctx, catalog.TasksServer, "+919833333333")
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	specs, err := sess.ListTools(ctx)
	require.NoError(t, err)
	var getTasks *ToolSpec
	for i := range specs {
		if specs[i].Name == "get_tasks" {
			getTasks = &specs[i]
		}
	}
	require.NotNil(t, getTasks)
	assert.Equal(t, "object", getTasks.Parameters["type"])

	text, err := sess.CallTool(ctx, "get_tasks", map[string]any{"agent_id": "agent-1"})
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, true, result["success"])
	assert.EqualValues(t, 1, result["count"])

	text, err = sess.CallTool(ctx, "delete_task", map[string]any{"agent_id": "agent-1", "task_id": "TASK0001"})
	require.NoError(t, err)
	assert.Contains(t, text, "permission denied")

	records := logger.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "+919833333333", records[0].UserContext)
	assert.Equal(t, audit.ResultSuccess, records[0].Result)
	assert.Equal(t, audit.ResultDenied, records[1].Result)
}

func TestMCPGateway_OpenFailsForUnknownServer(t *testing.T) {
	srv, _ := startGateway(t)
	gw := NewMCPGateway(MCPGatewayConfig{BaseURL: srv.URL})
	_, err := gw.Open(context.Background(), "billing-server", "")
	assert.Error(t, err)
}
