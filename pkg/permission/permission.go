// Package permission provides the per-agent, per-server, per-tool
// permission matrix and the fail-closed registry that evaluates it.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrMalformed is returned when a stored matrix cannot be decoded.
var ErrMalformed = errors.New("malformed permission matrix")

// Entry is one server's row in an agent's matrix.
type Entry struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tools   []string `json:"tools" yaml:"tools"`
}

// Allows reports whether the entry permits tool.
func (e Entry) Allows(tool string) bool {
	return e.Enabled && slices.Contains(e.Tools, tool)
}

// Matrix maps server names to entries.
type Matrix map[string]Entry

// Allows reports whether the matrix permits tool on server.
func (m Matrix) Allows(server, tool string) bool {
	e, ok := m[server]
	return ok && e.Allows(tool)
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for k, e := range m {
		out[k] = Entry{Enabled: e.Enabled, Tools: slices.Clone(e.Tools)}
	}
	return out
}

// ParseMatrix decodes a stored matrix. Any value that is not an object of
// {enabled: bool, tools: [string]} is rejected with ErrMalformed.
func ParseMatrix(raw []byte) (Matrix, error) {
	var m Matrix
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return m, nil
}

// Store reads and writes agent permission matrices.
type Store interface {
	// GetPermissions returns the agent's matrix, or nil with no error when
	// the agent has none.
	GetPermissions(ctx context.Context, agentID string) (Matrix, error)

	// SetPermissions replaces the agent's matrix.
	SetPermissions(ctx context.Context, agentID string, m Matrix) error
}
