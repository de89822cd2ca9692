package permission

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	matrices map[string]Matrix
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{matrices: make(map[string]Matrix)}
}

// GetPermissions implements Store.
func (s *MemoryStore) GetPermissions(_ context.Context, agentID string) (Matrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrices[agentID].Clone(), nil
}

// SetPermissions implements Store.
func (s *MemoryStore) SetPermissions(_ context.Context, agentID string, m Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[agentID] = m.Clone()
	return nil
}

var _ Store = (*MemoryStore)(nil)
