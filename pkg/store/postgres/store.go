// Package postgres provides a PostgreSQL entity store adapter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// likeEscaper makes ILIKE terms match literally under the default backslash escape.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// identRe restricts table and column names to plain lowercase identifiers.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store implements store.Adapter using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL entity store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Query returns rows matching q.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Row, error) {
	if err := checkIdent(q.Table); err != nil {
		return nil, err
	}

	qb := psq.Select("*").From(q.Table)
	qb, err := applyFilters(qb, q.Filters)
	if err != nil {
		return nil, err
	}
	for _, o := range q.OrderBy {
		if err := checkIdent(o.Column); err != nil {
			return nil, err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		qb = qb.OrderBy(o.Column + " " + dir + " NULLS LAST")
	}
	if q.Limit > 0 {
		qb = qb.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		qb = qb.Offset(uint64(q.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s query: %w", q.Table, err)
	}

	rows, err := s.queryRows(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Table, err)
	}

	if q.Expand != nil {
		if err := s.expand(ctx, rows, q.Expand); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// applyFilters translates store filters into WHERE conditions.
func applyFilters(qb sq.SelectBuilder, filters []store.Filter) (sq.SelectBuilder, error) {
	grouped := make(map[string]sq.Or)
	var groupOrder []string

	for _, f := range filters {
		cond, err := condition(f)
		if err != nil {
			return qb, err
		}
		if f.Group == "" {
			qb = qb.Where(cond)
			continue
		}
		if _, ok := grouped[f.Group]; !ok {
			groupOrder = append(groupOrder, f.Group)
		}
		grouped[f.Group] = append(grouped[f.Group], cond)
	}
	for _, g := range groupOrder {
		qb = qb.Where(grouped[g])
	}
	return qb, nil
}

func condition(f store.Filter) (sq.Sqlizer, error) {
	if err := checkIdent(f.Column); err != nil {
		return nil, err
	}
	switch f.Op {
	case store.OpEq, "":
		return sq.Eq{f.Column: f.Value}, nil
	case store.OpNeq:
		return sq.NotEq{f.Column: f.Value}, nil
	case store.OpGt:
		return sq.Gt{f.Column: f.Value}, nil
	case store.OpGte:
		return sq.GtOrEq{f.Column: f.Value}, nil
	case store.OpLt:
		return sq.Lt{f.Column: f.Value}, nil
	case store.OpLte:
		return sq.LtOrEq{f.Column: f.Value}, nil
	case store.OpILike:
		return sq.ILike{f.Column: "%" + likeEscaper.Replace(fmt.Sprint(f.Value)) + "%"}, nil
	case store.OpContains:
		encoded, err := json.Marshal([]any{f.Value})
		if err != nil {
			return nil, fmt.Errorf("encoding contains filter: %w", err)
		}
		return sq.Expr(f.Column+" @> ?::jsonb", string(encoded)), nil
	case store.OpIsNull:
		return sq.Eq{f.Column: nil}, nil
	case store.OpNotNull:
		return sq.NotEq{f.Column: nil}, nil
	default:
		return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
	}
}

// expand loads referenced rows with one IN query and embeds them.
func (s *Store) expand(ctx context.Context, rows []store.Row, e *store.Expand) error {
	for _, ident := range []string{e.Column, e.ForeignTable, e.ForeignKey} {
		if err := checkIdent(ident); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	var keys []any
	for _, r := range rows {
		if v := r[e.Column]; v != nil && !seen[fmt.Sprint(v)] {
			seen[fmt.Sprint(v)] = true
			keys = append(keys, v)
		}
	}

	related := make(map[string]store.Row)
	if len(keys) > 0 {
		query, args, err := psq.Select("*").From(e.ForeignTable).Where(sq.Eq{e.ForeignKey: keys}).ToSql()
		if err != nil {
			return fmt.Errorf("building %s expansion: %w", e.ForeignTable, err)
		}
		found, err := s.queryRows(ctx, query, args)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", e.ForeignTable, err)
		}
		for _, fr := range found {
			related[fmt.Sprint(fr[e.ForeignKey])] = fr
		}
	}

	for _, r := range rows {
		if fr, ok := related[fmt.Sprint(r[e.Column])]; ok && r[e.Column] != nil {
			r[e.As] = map[string]any(fr)
		} else {
			r[e.As] = nil
		}
	}
	return nil
}

// Insert stores record and returns the stored row.
func (s *Store) Insert(ctx context.Context, table string, record store.Row) (store.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cols, vals, err := columnsAndValues(record)
	if err != nil {
		return nil, err
	}

	query, args, err := psq.Insert(table).Columns(cols...).Values(vals...).Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s insert: %w", table, err)
	}

	rows, err := s.queryRows(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("inserting into %s: no row returned", table)
	}
	return rows[0], nil
}

// Update applies patch to the row identified by key.
func (s *Store) Update(ctx context.Context, table string, key store.Key, patch store.Row) (store.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if err := checkIdent(key.Column); err != nil {
		return nil, err
	}

	if len(patch) == 0 {
		rows, err := s.Query(ctx, store.Query{Table: table, Filters: []store.Filter{store.Eq(key.Column, key.Value)}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("updating %s %s=%v: %w", table, key.Column, key.Value, store.ErrNotFound)
		}
		return rows[0], nil
	}

	cols, vals, err := columnsAndValues(patch)
	if err != nil {
		return nil, err
	}
	ub := psq.Update(table)
	for i, c := range cols {
		ub = ub.Set(c, vals[i])
	}
	query, args, err := ub.Where(sq.Eq{key.Column: key.Value}).Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s update: %w", table, err)
	}

	rows, err := s.queryRows(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("updating %s %s=%v: %w", table, key.Column, key.Value, store.ErrNotFound)
	}
	return rows[0], nil
}

// Delete removes the row identified by key.
func (s *Store) Delete(ctx context.Context, table string, key store.Key) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if err := checkIdent(key.Column); err != nil {
		return err
	}

	query, args, err := psq.Delete(table).Where(sq.Eq{key.Column: key.Value}).ToSql()
	if err != nil {
		return fmt.Errorf("building %s delete: %w", table, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting %s %s=%v: %w", table, key.Column, key.Value, store.ErrNotFound)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// queryRows runs a query and scans every row into a column map.
func (s *Store) queryRows(ctx context.Context, query string, args []any) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with table context
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}

	out := make([]store.Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r := make(store.Row, len(cols))
		for i, c := range cols {
			r[c] = normalize(vals[i], types[i].DatabaseTypeName())
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// normalize converts driver values into JSON-friendly Go values. NUMERIC
// columns become float64 and JSON documents (jsonb columns) are decoded.
// Other byte slices become strings.
func normalize(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if dbType == "NUMERIC" {
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err == nil {
			return decoded
		}
	}
	return string(b)
}

// columnsAndValues returns record columns in sorted order with values
// prepared for the driver. Maps and slices are stored as JSON.
func columnsAndValues(record store.Row) ([]string, []any, error) {
	cols := make([]string, 0, len(record))
	for c := range record {
		if err := checkIdent(c); err != nil {
			return nil, nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	vals := make([]any, len(cols))
	for i, c := range cols {
		switch v := record[c].(type) {
		case map[string]any, []any, []string:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, nil, fmt.Errorf("encoding column %s: %w", c, err)
			}
			vals[i] = string(encoded)
		default:
			vals[i] = v
		}
	}
	return cols, vals, nil
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// Verify interface compliance.
var _ store.Adapter = (*Store)(nil)
