package migrate

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrateTestFactoryError = "factory error"

// mockMigrator implements the migrator interface for testing.
type mockMigrator struct {
	upErr      error
	downErr    error
	stepsErr   error
	versionVal uint
	dirty      bool
	versionErr error
	steps      int
}

func (m *mockMigrator) Up() error   { return m.upErr }
func (m *mockMigrator) Down() error { return m.downErr }
func (m *mockMigrator) Steps(n int) error {
	m.steps = n
	return m.stepsErr
}

func (m *mockMigrator) Version() (version uint, dirty bool, err error) {
	return m.versionVal, m.dirty, m.versionErr
}

func useMigrator(t *testing.T, m migrator, err error) {
	t.Helper()
	orig := migratorFactory
	t.Cleanup(func() { migratorFactory = orig })
	migratorFactory = func(_ *sql.DB) (migrator, error) {
		return m, err
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{
		"000001_crm_entities.down.sql",
		"000001_crm_entities.up.sql",
		"000002_ai_agents.down.sql",
		"000002_ai_agents.up.sql",
	}, names)
}

func TestMigrationTables(t *testing.T) {
	tests := []struct {
		file   string
		tables []string
	}{
		{
			file: "000001_crm_entities",
			tables: []string{
				"admin_users", "contacts", "pipelines", "pipeline_stages", "leads", "tasks",
				"recurring_tasks", "appointments", "support_tickets", "expenses", "products",
			},
		},
		{
			file:   "000002_ai_agents",
			tables: []string{"ai_agents", "ai_agent_permissions", "ai_agent_logs", "ai_agent_conversations"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			up, err := migrations.ReadFile("migrations/" + tt.file + ".up.sql")
			require.NoError(t, err)
			down, err := migrations.ReadFile("migrations/" + tt.file + ".down.sql")
			require.NoError(t, err)

			for _, table := range tt.tables {
				assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (")
				assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";")
			}
			assert.Equal(t, len(tt.tables), strings.Count(string(up), "CREATE TABLE"))
		})
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *mockMigrator
		factory error
		wantErr string
	}{
		{name: "success", m: &mockMigrator{versionVal: 2}},
		{name: "no change is not an error", m: &mockMigrator{upErr: migrate.ErrNoChange, versionVal: 2}},
		{name: "dirty state only warns", m: &mockMigrator{versionVal: 1, dirty: true}},
		{name: "nil version after up", m: &mockMigrator{versionErr: migrate.ErrNilVersion}},
		{name: "factory error", factory: errors.New(migrateTestFactoryError), wantErr: migrateTestFactoryError},
		{name: "up error", m: &mockMigrator{upErr: errors.New("syntax error")}, wantErr: "running migrations"},
		{name: "version error", m: &mockMigrator{versionErr: errors.New("boom")}, wantErr: "getting migration version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m migrator
			if tt.m != nil {
				m = tt.m
			}
			useMigrator(t, m, tt.factory)
			err := Run(nil)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	t.Run("current", func(t *testing.T) {
		useMigrator(t, &mockMigrator{versionVal: 2}, nil)
		v, dirty, err := Version(nil)
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.False(t, dirty)
	})

	t.Run("empty schema", func(t *testing.T) {
		useMigrator(t, &mockMigrator{versionErr: migrate.ErrNilVersion}, nil)
		v, _, err := Version(nil)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("factory error", func(t *testing.T) {
		useMigrator(t, nil, errors.New(migrateTestFactoryError))
		_, _, err := Version(nil)
		assert.ErrorContains(t, err, migrateTestFactoryError)
	})
}

func TestDown(t *testing.T) {
	useMigrator(t, &mockMigrator{downErr: migrate.ErrNoChange}, nil)
	assert.NoError(t, Down(nil))

	useMigrator(t, &mockMigrator{downErr: errors.New("locked")}, nil)
	assert.ErrorContains(t, Down(nil), "rolling back migrations")
}

func TestSteps(t *testing.T) {
	m := &mockMigrator{}
	useMigrator(t, m, nil)
	require.NoError(t, Steps(nil, -1))
	assert.Equal(t, -1, m.steps)

	useMigrator(t, &mockMigrator{stepsErr: errors.New("file does not exist")}, nil)
	assert.ErrorContains(t, Steps(nil, 3), "stepping migrations")
}

// TestMigrationTablesHaveConsumers fails when a migrated table is never
// named in non-test Go source, which means nothing reads or writes it.
func TestMigrationTablesHaveConsumers(t *testing.T) {
	tableRe := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`)
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	var tables []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		content, err := migrations.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		for _, m := range tableRe.FindAllStringSubmatch(string(content), -1) {
			tables = append(tables, m[1])
		}
	}
	require.NotEmpty(t, tables)

	var source strings.Builder
	err = filepath.WalkDir("../..", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		b, err := os.ReadFile(path) //nolint:gosec // test reads source files
		if err != nil {
			return err
		}
		source.Write(b)
		return nil
	})
	require.NoError(t, err)

	for _, table := range tables {
		assert.Contains(t, source.String(), `"`+table+`"`, "table %s has no consumer in pkg/", table)
	}
}
