// Package audit records one row per tool invocation attempt.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit record.
	Log(ctx context.Context, record Record) error

	// Query retrieves records matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Record, error)

	// Close releases resources.
	Close() error
}

// Summarizer is implemented by sinks that can aggregate records.
type Summarizer interface {
	Summary(ctx context.Context, filter QueryFilter) (*Summary, error)
}

// Record is one tool invocation attempt.
type Record struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	Module       string         `json:"module"`
	Action       string         `json:"action"`
	Result       Result         `json:"result"`
	ErrorMessage string         `json:"error_message,omitempty"`
	UserContext  string         `json:"user_context"`
	Details      map[string]any `json:"details,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

// QueryFilter defines criteria for querying audit records.
type QueryFilter struct {
	AgentID   string
	Module    string
	Action    string
	Result    Result
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Matches reports whether r satisfies the filter's predicates. Paging is ignored.
func (f QueryFilter) Matches(r Record) bool {
	switch {
	case f.AgentID != "" && r.AgentID != f.AgentID:
		return false
	case f.Module != "" && r.Module != f.Module:
		return false
	case f.Action != "" && r.Action != f.Action:
		return false
	case f.Result != "" && r.Result != f.Result:
		return false
	case f.StartTime != nil && r.CreatedAt.Before(*f.StartTime):
		return false
	case f.EndTime != nil && r.CreatedAt.After(*f.EndTime):
		return false
	}
	return true
}

// Summary aggregates records by outcome and module.
type Summary struct {
	Total    int            `json:"total"`
	Success  int            `json:"success"`
	Error    int            `json:"error"`
	Denied   int            `json:"denied"`
	ByModule map[string]int `json:"by_module"`
}

// Add counts one record with the given result and module.
func (s *Summary) Add(result Result, module string, n int) {
	s.Total += n
	switch result {
	case ResultSuccess:
		s.Success += n
	case ResultError:
		s.Error += n
	case ResultDenied:
		s.Denied += n
	}
	if s.ByModule == nil {
		s.ByModule = make(map[string]int)
	}
	s.ByModule[module] += n
}

// Config configures audit logging.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	BufferSize    int    `yaml:"buffer_size"`
	UserContext   string `yaml:"user_context"`
	RetentionDays int    `yaml:"retention_days"`
}
