package audit

import (
	"context"
	"slices"
	"sync"
)

// MemoryLogger keeps records in process memory.
type MemoryLogger struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryLogger creates an empty in-memory sink.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log implements Logger.
func (m *MemoryLogger) Log(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Query implements Logger.
func (m *MemoryLogger) Query(_ context.Context, filter QueryFilter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0)
	for i := len(m.records) - 1; i >= 0; i-- {
		if filter.Matches(m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summary implements Summarizer.
func (m *MemoryLogger) Summary(_ context.Context, filter QueryFilter) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{ByModule: make(map[string]int)}
	for _, r := range m.records {
		if filter.Matches(r) {
			s.Add(r.Result, r.Module, 1)
		}
	}
	return s, nil
}

// Records returns every record in append order.
func (m *MemoryLogger) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// Close implements Logger.
func (*MemoryLogger) Close() error { return nil }

var (
	_ Logger     = (*MemoryLogger)(nil)
	_ Summarizer = (*MemoryLogger)(nil)
)
