package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-crm-gateway/pkg/store"
)

func TestStore_RecentWindow(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore())

	for i := range 25 {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := s.Append(ctx, "agent-1", "+911", role, fmt.Sprintf("m%02d", i))
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, "agent-1", "+922", RoleUser, "other counterpart")
	require.NoError(t, err)
	_, err = s.Append(ctx, "agent-2", "+911", RoleUser, "other agent")
	require.NoError(t, err)

	turns, err := s.Recent(ctx, "agent-1", "+911", DefaultWindow)
	require.NoError(t, err)
	require.Len(t, turns, DefaultWindow)
	assert.Equal(t, "m05", turns[0].Message, "oldest of the newest 20")
	assert.Equal(t, "m24", turns[19].Message)
	for i := 1; i < len(turns); i++ {
		assert.True(t, turns[i].CreatedAt.After(turns[i-1].CreatedAt))
	}
	assert.Equal(t, RoleAssistant, turns[0].Role)
}

func TestStore_RecentDefaultsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore())
	_, err := s.Append(ctx, "a", "p", RoleUser, "hi")
	require.NoError(t, err)

	turns, err := s.Recent(ctx, "a", "p", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Message)
	assert.NotEmpty(t, turns[0].ID)

	empty, err := s.Recent(ctx, "a", "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
