// Package agent reads AI agent configuration from the ai_agents table.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// Table holds agent rows.
const Table = "ai_agents"

// ErrNotFound is returned when no agent has the requested id.
var ErrNotFound = errors.New("agent not found")

// Agent is one configured AI agent.
type Agent struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Model        string    `json:"model,omitempty" yaml:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty" yaml:"system_prompt"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	MCPEnabled   bool      `json:"mcp_enabled" yaml:"mcp_enabled"`
	Modules      []string  `json:"modules" yaml:"modules"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// Store reads and writes agents through the entity store.
type Store struct {
	db store.Adapter
}

// NewStore creates an agent store.
func NewStore(db store.Adapter) *Store {
	return &Store{db: db}
}

// Get returns the agent with id.
func (s *Store) Get(ctx context.Context, id string) (*Agent, error) {
	rows, err := s.db.Query(ctx, store.Query{
		Table:   Table,
		Filters: []store.Filter{store.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRow(rows[0]), nil
}

// List returns every agent ordered by name.
func (s *Store) List(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.Query(ctx, store.Query{
		Table:   Table,
		OrderBy: []store.Order{{Column: "name"}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	out := make([]*Agent, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// Create inserts a new agent.
func (s *Store) Create(ctx context.Context, a Agent) (*Agent, error) {
	if a.ID == "" {
		return nil, errors.New("agent id is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	modules := a.Modules
	if modules == nil {
		modules = []string{}
	}
	row, err := s.db.Insert(ctx, Table, store.Row{
		"id":            a.ID,
		"name":          a.Name,
		"model":         a.Model,
		"system_prompt": a.SystemPrompt,
		"is_active":     a.IsActive,
		"mcp_enabled":   a.MCPEnabled,
		"modules":       modules,
		"created_at":    a.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting agent: %w", err)
	}
	return fromRow(row), nil
}

func fromRow(r store.Row) *Agent {
	a := &Agent{
		ID:           r.String("id"),
		Name:         r.String("name"),
		Model:        r.String("model"),
		SystemPrompt: r.String("system_prompt"),
		Modules:      stringSlice(r["modules"]),
	}
	a.IsActive, _ = r["is_active"].(bool)
	a.MCPEnabled, _ = r["mcp_enabled"].(bool)
	a.CreatedAt, _ = r["created_at"].(time.Time)
	return a
}

// stringSlice accepts the shapes an array column takes across adapters.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
