package utils

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema step for a component.
type Migration struct {
	Version int
	Name    string
	Stmts   []string
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	component  TEXT NOT NULL,
	version    INT NOT NULL,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (component, version)
)`

func validateMigrations(component string, migs []Migration) error {
	if component == "" {
		return fmt.Errorf("migrate: component is required")
	}
	last := 0
	for _, m := range migs {
		if m.Version <= last {
			return fmt.Errorf("migrate %s: version %d out of order", component, m.Version)
		}
		if len(m.Stmts) == 0 {
			return fmt.Errorf("migrate %s: version %d has no statements", component, m.Version)
		}
		last = m.Version
	}
	return nil
}

// Migrate applies the migrations of component that are not yet recorded in
// schema_migrations, each in its own transaction. An advisory lock keyed on
// the component serializes replicas starting together.
func Migrate(ctx context.Context, db *sql.DB, component string, migs []Migration) (applied int, err error) {
	if err := validateMigrations(component, migs); err != nil {
		return 0, err
	}
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}

	for _, m := range migs {
		m := m
		done := false
		err := WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, component); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE component = $1 AND version = $2)`,
				component, m.Version).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			for i, stmt := range m.Stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i, err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (component, version, name) VALUES ($1, $2, $3)`,
				component, m.Version, m.Name); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migrate %s v%d (%s): %w", component, m.Version, m.Name, err)
		}
		if done {
			applied++
		}
	}
	return applied, nil
}
