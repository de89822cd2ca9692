package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"

	"github.com/txn2/mcp-crm-gateway/pkg/database/migrate"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database DSN (overrides database.dsn)")

	open := func() (*sql.DB, error) {
		if dsn == "" {
			cfg, err := root.loadConfig()
			if err != nil {
				return nil, err
			}
			dsn = cfg.Database.DSN
		}
		if dsn == "" {
			return nil, errors.New("no database configured: set --dsn or database.dsn")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}

	withDB := func(fn func(cmd *cobra.Command, db *sql.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return fn(cmd, db, args)
		}
	}

	printVersion := func(cmd *cobra.Command, db *sql.DB) error {
		v, dirty, err := migrate.Version(db)
		if err != nil {
			return err //nolint:wrapcheck // migrate errors carry context
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", v, dirty)
		return err //nolint:wrapcheck // write to stdout
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB, _ []string) error {
				if err := migrate.Run(db); err != nil {
					return err //nolint:wrapcheck // migrate errors carry context
				}
				return printVersion(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping all gateway tables",
			RunE: withDB(func(_ *cobra.Command, db *sql.DB, _ []string) error {
				return migrate.Down(db) //nolint:wrapcheck // migrate errors carry context
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations; a negative N rolls back (pass it after --)",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				if err := migrate.Steps(db, n); err != nil {
					return err //nolint:wrapcheck // migrate errors carry context
				}
				return printVersion(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withDB(func(cmd *cobra.Command, db *sql.DB, _ []string) error {
				return printVersion(cmd, db)
			}),
		},
	)
	return cmd
}
