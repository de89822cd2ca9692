// Package postgres provides PostgreSQL storage for audit logs.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-crm-gateway/pkg/audit"
)

const (
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns returned by audit SELECT queries.
var auditColumns = []string{
	"id", "agent_id", "agent_name", "module", "action", "result",
	"error_message", "user_context", "details", "session_id",
	"duration_ms", "created_at",
}

// Store implements audit.Logger over the ai_agent_logs table.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	// RetentionDays of zero keeps records forever.
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit record.
func (s *Store) Log(ctx context.Context, r audit.Record) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		details = []byte("{}")
	}

	query, args, err := psq.Insert("ai_agent_logs").
		Columns(auditColumns...).
		Values(
			r.ID, r.AgentID, r.AgentName, r.Module, r.Action, string(r.Result),
			nullString(r.ErrorMessage), r.UserContext, details, r.SessionID,
			r.DurationMS, r.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// applyAuditFilter adds filter conditions to a SELECT builder.
func applyAuditFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.AgentID != "" {
		qb = qb.Where(sq.Eq{"agent_id": filter.AgentID})
	}
	if filter.Module != "" {
		qb = qb.Where(sq.Eq{"module": filter.Module})
	}
	if filter.Action != "" {
		qb = qb.Where(sq.Eq{"action": filter.Action})
	}
	if filter.Result != "" {
		qb = qb.Where(sq.Eq{"result": string(filter.Result)})
	}
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"created_at": *filter.EndTime})
	}
	return qb
}

// Query retrieves audit records matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Record, error) {
	qb := applyAuditFilter(psq.Select(auditColumns...).From("ai_agent_logs"), filter)
	qb = qb.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if filter.Limit > 0 && filter.Limit <= maxQueryCapacity {
		allocCap = filter.Limit
	}
	records := make([]audit.Record, 0, allocCap)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log rows: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (audit.Record, error) {
	var (
		r        audit.Record
		result   string
		errMsg   sql.NullString
		details  []byte
		session  sql.NullString
		duration sql.NullInt64
	)
	err := rows.Scan(
		&r.ID, &r.AgentID, &r.AgentName, &r.Module, &r.Action, &result,
		&errMsg, &r.UserContext, &details, &session,
		&duration, &r.CreatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("scanning audit log row: %w", err)
	}
	r.Result = audit.Result(result)
	r.ErrorMessage = errMsg.String
	r.SessionID = session.String
	r.DurationMS = duration.Int64
	if len(details) > 0 {
		_ = json.Unmarshal(details, &r.Details)
	}
	return r, nil
}

// Summary aggregates matching records by result and module.
func (s *Store) Summary(ctx context.Context, filter audit.QueryFilter) (*audit.Summary, error) {
	qb := applyAuditFilter(psq.Select("result", "module", "COUNT(*)").From("ai_agent_logs"), filter)
	qb = qb.GroupBy("result", "module")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building summary query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := &audit.Summary{ByModule: make(map[string]int)}
	for rows.Next() {
		var (
			result, module string
			n              int
		)
		if err := rows.Scan(&result, &module, &n); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summary.Add(audit.Result(result), module, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return summary, nil
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Cleanup removes audit logs older than the retention period. It does
// nothing when retention is disabled.
func (s *Store) Cleanup(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ai_agent_logs WHERE created_at < $1`, cutoff); err != nil {
		return fmt.Errorf("cleaning up audit logs: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// old audit logs. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	if s.retentionDays <= 0 || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Verify interface compliance.
var (
	_ audit.Logger     = (*Store)(nil)
	_ audit.Summarizer = (*Store)(nil)
)
