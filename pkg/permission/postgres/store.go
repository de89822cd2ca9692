// Package postgres provides PostgreSQL storage for agent permission matrices.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-crm-gateway/pkg/permission"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements permission.Store over the ai_agent_permissions table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL permission store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetPermissions implements permission.Store. A row whose permissions column
// does not decode returns permission.ErrMalformed.
func (s *Store) GetPermissions(ctx context.Context, agentID string) (permission.Matrix, error) {
	query, args, err := psq.Select("permissions").
		From("ai_agent_permissions").
		Where(sq.Eq{"agent_id": agentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var raw []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no row means no permissions
	}
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	return permission.ParseMatrix(raw)
}

// SetPermissions implements permission.Store.
func (s *Store) SetPermissions(ctx context.Context, agentID string, m permission.Matrix) error {
	if m == nil {
		m = permission.Matrix{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling permissions: %w", err)
	}

	query, args, err := psq.Insert("ai_agent_permissions").
		Columns("agent_id", "permissions", "updated_at").
		Values(agentID, raw, time.Now().UTC()).
		Suffix("ON CONFLICT (agent_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving permissions: %w", err)
	}
	return nil
}

var _ permission.Store = (*Store)(nil)
