package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/catalog"
	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// idDigits is the zero-padded width of generated id sequences.
const idDigits = 4

// Executor runs catalog tools against the entity store.
type Executor struct {
	db  store.Adapter
	now func() time.Time

	// createMu serializes id allocation and insert.
	createMu sync.Mutex
}

// NewExecutor creates an executor over db.
func NewExecutor(db store.Adapter) *Executor {
	return &Executor{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Execute runs tool with args. A returned error is an execution failure;
// the Result is only meaningful when err is nil.
func (x *Executor) Execute(ctx context.Context, tool catalog.Tool, args Args) (Result, error) {
	e := tool.Entity
	if e == nil {
		return Result{}, fmt.Errorf("tool %s has no entity binding", tool.Name)
	}
	switch tool.Action {
	case catalog.ActionGet:
		return x.get(ctx, e, args)
	case catalog.ActionCreate:
		return x.create(ctx, e, args)
	case catalog.ActionUpdate:
		return x.update(ctx, e, args)
	case catalog.ActionDelete:
		return x.delete(ctx, e, args)
	case catalog.ActionLookup:
		return x.lookup(ctx, tool, args)
	}
	return Result{}, fmt.Errorf("tool %s has unsupported action %q", tool.Name, tool.Action)
}

func (x *Executor) get(ctx context.Context, e *catalog.Entity, args Args) (Result, error) {
	limit, err := args.int("limit", catalog.DefaultLimit)
	if err != nil {
		return Result{}, err
	}
	offset, err := args.int("offset", 0)
	if err != nil {
		return Result{}, err
	}
	limit = min(max(limit, 1), catalog.MaxLimit)
	offset = max(offset, 0)

	var filters []store.Filter
	if id, ok := args[e.IDColumn].(string); ok && id != "" {
		filters = append(filters, store.Eq(e.IDColumn, id))
	}
	for _, name := range e.Filterable {
		v, ok := args[name]
		if !ok || v == nil || v == "" {
			continue
		}
		if f, known := e.Field(name); known {
			if err := checkField(f, v); err != nil {
				return Result{}, err
			}
		}
		filters = append(filters, store.Eq(name, v))
	}
	if term, ok := args["search"].(string); ok && strings.TrimSpace(term) != "" {
		for _, col := range e.Searchable {
			filters = append(filters, store.Filter{
				Column: col,
				Op:     store.OpILike,
				Value:  strings.TrimSpace(term),
				Group:  "search",
			})
		}
	}

	rows, err := x.db.Query(ctx, store.Query{
		Table:   e.Table,
		Filters: filters,
		OrderBy: e.DefaultOrder(),
		Limit:   limit,
		Offset:  offset,
		Expand:  e.Expand,
	})
	if err != nil {
		return Result{}, fmt.Errorf("fetching %s: %w", e.Plural, err)
	}
	return Rows(rows), nil
}

func (x *Executor) create(ctx context.Context, e *catalog.Entity, args Args) (Result, error) {
	values, err := args.fields(e)
	if err != nil {
		return Result{}, err
	}
	var missing []string
	for _, name := range e.Required {
		v, ok := values[name]
		if s, isStr := v.(string); !ok || v == nil || (isStr && strings.TrimSpace(s) == "") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	row := store.Row{}
	for k, v := range e.Defaults {
		row[k] = v
	}
	for k, v := range values {
		if v != nil {
			row[k] = v
		}
	}
	now := x.now()
	row["created_at"] = now
	row["updated_at"] = now

	x.createMu.Lock()
	defer x.createMu.Unlock()

	id, err := x.nextID(ctx, e)
	if err != nil {
		return Result{}, err
	}
	row[e.IDColumn] = id

	created, err := x.db.Insert(ctx, e.Table, row)
	if err != nil {
		return Result{}, fmt.Errorf("creating %s: %w", e.Singular, err)
	}
	return OK(created, fmt.Sprintf("%s %s created successfully", label(e), id)), nil
}

func (x *Executor) update(ctx context.Context, e *catalog.Entity, args Args) (Result, error) {
	id, err := args.requiredString(e.IDColumn)
	if err != nil {
		return Result{}, err
	}
	patch, err := args.fields(e)
	if err != nil {
		return Result{}, err
	}
	if len(patch) == 0 {
		return Result{}, fmt.Errorf("no fields to update for %s %s", e.Singular, id)
	}
	patch["updated_at"] = x.now()

	updated, err := x.db.Update(ctx, e.Table, store.Key{Column: e.IDColumn, Value: id}, store.Row(patch))
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("%s %s not found", e.Singular, id)
	}
	if err != nil {
		return Result{}, fmt.Errorf("updating %s: %w", e.Singular, err)
	}
	return OK(updated, fmt.Sprintf("%s %s updated successfully", label(e), id)), nil
}

func (x *Executor) delete(ctx context.Context, e *catalog.Entity, args Args) (Result, error) {
	id, err := args.requiredString(e.IDColumn)
	if err != nil {
		return Result{}, err
	}
	err = x.db.Delete(ctx, e.Table, store.Key{Column: e.IDColumn, Value: id})
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("%s %s not found", e.Singular, id)
	}
	if err != nil {
		return Result{}, fmt.Errorf("deleting %s: %w", e.Singular, err)
	}
	return OK(map[string]any{e.IDColumn: id}, fmt.Sprintf("%s %s deleted successfully", label(e), id)), nil
}

func (x *Executor) lookup(ctx context.Context, tool catalog.Tool, args Args) (Result, error) {
	e := tool.Entity
	var filters []store.Filter
	for _, name := range tool.InputSchema.Required {
		if name == catalog.AgentIDArg {
			continue
		}
		v, err := args.requiredString(name)
		if err != nil {
			return Result{}, err
		}
		filters = append(filters, store.Eq(name, v))
	}
	rows, err := x.db.Query(ctx, store.Query{
		Table:   e.Table,
		Filters: filters,
		OrderBy: e.DefaultOrder(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("listing %s: %w", e.Plural, err)
	}
	return Rows(rows), nil
}

// nextID returns the next id in the entity's prefixed sequence.
func (x *Executor) nextID(ctx context.Context, e *catalog.Entity) (string, error) {
	rows, err := x.db.Query(ctx, store.Query{
		Table:   e.Table,
		Filters: []store.Filter{{Column: e.IDColumn, Op: store.OpILike, Value: e.IDPrefix}},
	})
	if err != nil {
		return "", fmt.Errorf("allocating %s id: %w", e.Singular, err)
	}
	seqs := make([]int, 0, len(rows))
	for _, r := range rows {
		id := r.String(e.IDColumn)
		if !strings.HasPrefix(id, e.IDPrefix) {
			continue
		}
		if n, err := strconv.Atoi(id[len(e.IDPrefix):]); err == nil {
			seqs = append(seqs, n)
		}
	}
	next := 1
	if len(seqs) > 0 {
		sort.Ints(seqs)
		next = seqs[len(seqs)-1] + 1
	}
	return fmt.Sprintf("%s%0*d", e.IDPrefix, idDigits, next), nil
}

// label is the capitalized entity name used in messages.
func label(e *catalog.Entity) string {
	s := strings.ReplaceAll(e.Singular, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
