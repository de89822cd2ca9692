// Package conversation stores the chat turns exchanged between an agent and
// a counterpart, keyed by agent and phone number.
package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

// Table holds conversation turns.
const Table = "ai_agent_conversations"

// DefaultWindow is how many recent turns are replayed to the model.
const DefaultWindow = 20

// Role is who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	PhoneNumber string    `json:"phone_number"`
	Role        Role      `json:"role"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store appends and reads turns through the entity store.
type Store struct {
	db store.Adapter

	// last keeps created_at strictly increasing so turns written in the same
	// instant still order deterministically.
	mu   sync.Mutex
	last time.Time
}

// NewStore creates a conversation store.
func NewStore(db store.Adapter) *Store {
	return &Store{db: db}
}

func (s *Store) timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// Append stores a new turn and returns it with id and timestamp set.
func (s *Store) Append(ctx context.Context, agentID, phone string, role Role, message string) (Turn, error) {
	t := Turn{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		PhoneNumber: phone,
		Role:        role,
		Message:     message,
		CreatedAt:   s.timestamp(),
	}
	_, err := s.db.Insert(ctx, Table, store.Row{
		"id":           t.ID,
		"agent_id":     t.AgentID,
		"phone_number": t.PhoneNumber,
		"role":         string(t.Role),
		"message":      t.Message,
		"created_at":   t.CreatedAt,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("inserting conversation turn: %w", err)
	}
	return t, nil
}

// Recent returns at most limit of the newest turns, oldest first.
func (s *Store) Recent(ctx context.Context, agentID, phone string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}
	rows, err := s.db.Query(ctx, store.Query{
		Table: Table,
		Filters: []store.Filter{
			store.Eq("agent_id", agentID),
			store.Eq("phone_number", phone),
		},
		OrderBy: []store.Order{{Column: "created_at", Desc: true}},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	turns := make([]Turn, len(rows))
	for i, r := range rows {
		turns[i] = Turn{
			ID:          r.String("id"),
			AgentID:     r.String("agent_id"),
			PhoneNumber: r.String("phone_number"),
			Role:        Role(r.String("role")),
			Message:     r.String("message"),
		}
		turns[i].CreatedAt, _ = r["created_at"].(time.Time)
	}
	slices.Reverse(turns)
	return turns, nil
}
