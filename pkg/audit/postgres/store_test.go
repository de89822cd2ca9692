package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/audit"
)

const (
	testYear       = 2026
	testMonth      = 9
	testDurationMS = 42
	testLimit      = 25
	testOffset     = 50
)

func newTestRecord() audit.Record {
	return audit.Record{
		ID:          "0b7c1b4e-6a53-4c4e-9a42-0d1f0a2f8b11",
		AgentID:     "agent-1",
		AgentName:   "Sales Bot",
		Module:      "tasks-server",
		Action:      "create_task",
		Result:      audit.ResultSuccess,
		UserContext: "+919800000000",
		Details:     map[string]any{"title": "Call back"},
		SessionID:   "1760000000000-abc",
		DurationMS:  testDurationMS,
		CreatedAt:   time.Date(testYear, testMonth, 15, 10, 30, 0, 0, time.UTC),
	}
}

func newMockStore(t *testing.T, cfg Config) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, cfg), mock
}

func TestLog_Success(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	r := newTestRecord()
	details, err := json.Marshal(r.Details)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO ai_agent_logs \(id,agent_id,agent_name,module,action,result,error_message,user_context,details,session_id,duration_ms,created_at\)`).
		WithArgs(
			r.ID, r.AgentID, r.AgentName, r.Module, r.Action, "Success",
			sql.NullString{}, r.UserContext, details, r.SessionID,
			r.DurationMS, r.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Log(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_ErrorMessageAndDBError(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	r := newTestRecord()
	r.Result = audit.ResultError
	r.ErrorMessage = "record not found"

	mock.ExpectExec("INSERT INTO ai_agent_logs").
		WithArgs(
			r.ID, r.AgentID, r.AgentName, r.Module, r.Action, "Error",
			sql.NullString{String: "record not found", Valid: true}, r.UserContext, sqlmock.AnyArg(), r.SessionID,
			r.DurationMS, r.CreatedAt,
		).
		WillReturnError(errors.New("connection refused"))

	err := store.Log(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting audit log")
	assert.Contains(t, err.Error(), "connection refused")
}

func recordRows(records ...audit.Record) *sqlmock.Rows {
	rows := sqlmock.NewRows(auditColumns)
	for _, r := range records {
		details, _ := json.Marshal(r.Details)
		var errMsg any
		if r.ErrorMessage != "" {
			errMsg = r.ErrorMessage
		}
		rows.AddRow(
			r.ID, r.AgentID, r.AgentName, r.Module, r.Action, string(r.Result),
			errMsg, r.UserContext, details, r.SessionID,
			r.DurationMS, r.CreatedAt,
		)
	}
	return rows
}

func TestQuery_NoFilter(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	r := newTestRecord()
	mock.ExpectQuery(`SELECT .+ FROM ai_agent_logs ORDER BY created_at DESC`).
		WillReturnRows(recordRows(r))

	got, err := store.Query(context.Background(), audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
}

func TestQuery_WithFilters(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	start := time.Date(testYear, testMonth, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM ai_agent_logs WHERE agent_id = \$1 AND module = \$2 AND result = \$3 AND created_at >= \$4 ORDER BY created_at DESC LIMIT 25 OFFSET 50`).
		WithArgs("agent-1", "tasks-server", "Denied", start).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	got, err := store.Query(context.Background(), audit.QueryFilter{
		AgentID:   "agent-1",
		Module:    "tasks-server",
		Result:    audit.ResultDenied,
		StartTime: &start,
		Limit:     testLimit,
		Offset:    testOffset,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_DBError(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

	_, err := store.Query(context.Background(), audit.QueryFilter{})
	assert.ErrorContains(t, err, "querying audit logs")
}

func TestSummary(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	mock.ExpectQuery(`SELECT result, module, COUNT\(\*\) FROM ai_agent_logs WHERE agent_id = \$1 GROUP BY result, module`).
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"result", "module", "count"}).
			AddRow("Success", "tasks-server", 5).
			AddRow("Denied", "tasks-server", 2).
			AddRow("Error", "leads-server", 1))

	s, err := store.Summary(context.Background(), audit.QueryFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 5, s.Success)
	assert.Equal(t, 2, s.Denied)
	assert.Equal(t, 1, s.Error)
	assert.Equal(t, map[string]int{"tasks-server": 7, "leads-server": 1}, s.ByModule)
}

func TestCleanup(t *testing.T) {
	t.Run("retention disabled", func(t *testing.T) {
		store, mock := newMockStore(t, Config{})
		require.NoError(t, store.Cleanup(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes old rows", func(t *testing.T) {
		store, mock := newMockStore(t, Config{RetentionDays: 30})
		mock.ExpectExec(`DELETE FROM ai_agent_logs WHERE created_at < \$1`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))
		require.NoError(t, store.Cleanup(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClose_WithoutCleanupRoutine(t *testing.T) {
	store, _ := newMockStore(t, Config{RetentionDays: 30})
	assert.NoError(t, store.Close())

	store.StartCleanupRoutine(time.Hour)
	assert.NoError(t, store.Close())
}
