//go:build integration

package migrate

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("crm"),
		postgres.WithUsername("crm"),
		postgres.WithPassword("crm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	t.Run("Run applies migrations", func(t *testing.T) {
		require.NoError(t, Run(db))
		for _, table := range []string{"contacts", "leads", "tasks", "ai_agents", "ai_agent_permissions", "ai_agent_logs"} {
			require.True(t, tableExists(t, db, table), "%s should exist", table)
		}
	})

	t.Run("Run is idempotent", func(t *testing.T) {
		require.NoError(t, Run(db))
		version, dirty, err := Version(db)
		require.NoError(t, err)
		require.False(t, dirty)
		require.Equal(t, uint(2), version)
	})

	t.Run("Down rolls back migrations", func(t *testing.T) {
		require.NoError(t, Down(db))
		require.False(t, tableExists(t, db, "contacts"))
		require.False(t, tableExists(t, db, "ai_agent_logs"))
	})

	t.Run("Steps applies n migrations", func(t *testing.T) {
		require.NoError(t, Steps(db, 1))
		version, _, err := Version(db)
		require.NoError(t, err)
		require.Equal(t, uint(1), version)
		require.True(t, tableExists(t, db, "contacts"))
		require.False(t, tableExists(t, db, "ai_agents"))

		require.NoError(t, Steps(db, 1))
		version, _, err = Version(db)
		require.NoError(t, err)
		require.Equal(t, uint(2), version)
	})
}
