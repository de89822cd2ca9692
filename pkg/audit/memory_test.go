package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogger_Query(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()
	for _, r := range []Record{
		{ID: "1", AgentID: "a", Module: "tasks-server", Result: ResultSuccess},
		{ID: "2", AgentID: "b", Module: "tasks-server", Result: ResultDenied},
		{ID: "3", AgentID: "a", Module: "leads-server", Result: ResultError},
		{ID: "4", AgentID: "a", Module: "tasks-server", Result: ResultSuccess},
	} {
		require.NoError(t, m.Log(ctx, r))
	}

	ids := func(rs []Record) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}

	got, err := m.Query(ctx, QueryFilter{AgentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3", "1"}, ids(got), "newest first")

	got, err = m.Query(ctx, QueryFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, ids(got))

	got, err = m.Query(ctx, QueryFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)

	s, err := m.Summary(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, &Summary{
		Total: 4, Success: 2, Error: 1, Denied: 1,
		ByModule: map[string]int{"tasks-server": 3, "leads-server": 1},
	}, s)

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(m.Records()))
	assert.NoError(t, m.Close())
}
