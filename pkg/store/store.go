// Package store defines the entity store adapter the gateway uses to reach
// CRM tables, along with an in-memory implementation.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Update and Delete when no row matches the key.
var ErrNotFound = errors.New("record not found")

// Row is one record, keyed by column name. A nil value is SQL NULL.
type Row map[string]any

// Key identifies a single row by column equality.
type Key struct {
	Column string
	Value  any
}

// Op is a filter predicate operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpILike    Op = "ilike"    // case-insensitive substring match
	OpContains Op = "contains" // array column contains value
	OpIsNull   Op = "is_null"
	OpNotNull  Op = "not_null"
)

// Filter is a single predicate. Filters in a Query are ANDed, except that
// filters sharing a non-empty Group are ORed together.
type Filter struct {
	Column string
	Op     Op
	Value  any
	Group  string
}

// Order sorts query results.
type Order struct {
	Column string
	Desc   bool
}

// Expand embeds the row referenced by a foreign key under As.
type Expand struct {
	Column       string // local column holding the foreign key
	ForeignTable string
	ForeignKey   string
	As           string
}

// Query describes a filtered read of one table.
type Query struct {
	Table   string
	Filters []Filter
	OrderBy []Order
	Limit   int
	Offset  int
	Expand  *Expand
}

// Adapter is the entity store used by tool handlers.
type Adapter interface {
	// Query returns rows matching q.
	Query(ctx context.Context, q Query) ([]Row, error)

	// Insert stores record and returns the stored row.
	Insert(ctx context.Context, table string, record Row) (Row, error)

	// Update applies patch to the row identified by key and returns the
	// updated row. Columns absent from patch are left untouched; a nil value
	// clears the column.
	Update(ctx context.Context, table string, key Key, patch Row) (Row, error)

	// Delete removes the row identified by key.
	Delete(ctx context.Context, table string, key Key) error
}

// Eq is shorthand for an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column value as a string, or "" when absent or not a string.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}
