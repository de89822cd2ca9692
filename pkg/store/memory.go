package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Adapter over in-process tables. Rows keep insertion
// order, which is also the order returned when a query has no OrderBy.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

// Seed appends rows to table without any processing.
func (s *MemoryStore) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], r.Clone())
	}
}

// Query returns rows matching q.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Row, error) {
	if q.Table == "" {
		return nil, fmt.Errorf("query: table is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, r := range s.tables[q.Table] {
		ok, err := matchAll(r, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r.Clone())
		}
	}

	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(out, func(a, b Row) int {
			for _, o := range q.OrderBy {
				if c := compareForSort(a[o.Column], b[o.Column], o.Desc); c != 0 {
					return c
				}
			}
			return 0
		})
	}

	out = paginate(out, q.Offset, q.Limit)

	if q.Expand != nil {
		s.expand(out, q.Expand)
	}
	return out, nil
}

func paginate(rows []Row, offset, limit int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []Row{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	if rows == nil {
		return []Row{}
	}
	return rows
}

// expand embeds referenced rows; callers hold the read lock.
func (s *MemoryStore) expand(rows []Row, e *Expand) {
	for _, r := range rows {
		fk, ok := r[e.Column]
		if !ok || fk == nil {
			r[e.As] = nil
			continue
		}
		r[e.As] = nil
		for _, fr := range s.tables[e.ForeignTable] {
			if equalValues(fr[e.ForeignKey], fk) {
				r[e.As] = map[string]any(fr.Clone())
				break
			}
		}
	}
}

// Insert stores record and returns the stored row.
func (s *MemoryStore) Insert(_ context.Context, table string, record Row) (Row, error) {
	if table == "" {
		return nil, fmt.Errorf("insert: table is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	if stored == nil {
		stored = Row{}
	}
	s.tables[table] = append(s.tables[table], stored)
	return stored.Clone(), nil
}

// Update applies patch to the first row matching key.
func (s *MemoryStore) Update(_ context.Context, table string, key Key, patch Row) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.tables[table] {
		if !equalValues(r[key.Column], key.Value) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("updating %s %s=%v: %w", table, key.Column, key.Value, ErrNotFound)
}

// Delete removes the first row matching key.
func (s *MemoryStore) Delete(_ context.Context, table string, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	for i, r := range rows {
		if equalValues(r[key.Column], key.Value) {
			s.tables[table] = slices.Delete(rows, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("deleting %s %s=%v: %w", table, key.Column, key.Value, ErrNotFound)
}

// matchAll applies ANDed filters, ORing those that share a group.
func matchAll(r Row, filters []Filter) (bool, error) {
	groups := make(map[string]bool)
	seen := make(map[string]bool)
	for _, f := range filters {
		ok, err := matchOne(r, f)
		if err != nil {
			return false, err
		}
		if f.Group == "" {
			if !ok {
				return false, nil
			}
			continue
		}
		seen[f.Group] = true
		groups[f.Group] = groups[f.Group] || ok
	}
	for g := range seen {
		if !groups[g] {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(r Row, f Filter) (bool, error) {
	v, present := r[f.Column]
	switch f.Op {
	case OpEq, "":
		return present && equalValues(v, f.Value), nil
	case OpNeq:
		return !present || !equalValues(v, f.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compareValues(v, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpILike:
		s, ok := v.(string)
		needle, _ := f.Value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(needle)), nil
	case OpContains:
		return containsValue(v, f.Value), nil
	case OpIsNull:
		return v == nil, nil
	case OpNotNull:
		return v != nil, nil
	default:
		return false, fmt.Errorf("unsupported filter operator %q", f.Op)
	}
}

func containsValue(col, want any) bool {
	switch list := col.(type) {
	case []string:
		for _, s := range list {
			if equalValues(s, want) {
				return true
			}
		}
	case []any:
		for _, s := range list {
			if equalValues(s, want) {
				return true
			}
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders two scalars of compatible kinds.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	ba, okA := a.(bool)
	bb, okB := b.(bool)
	if okA && okB {
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compareForSort orders values with nil last regardless of direction.
func compareForSort(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := compareValues(a, b)
	if desc {
		return -c
	}
	return c
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Verify interface compliance.
var _ Adapter = (*MemoryStore)(nil)
