package ingest

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies pending SQL migrations in lexicographic order, creating
// the ingest schema and tracking table first.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "ingest.migrate"))

	// Advisory lock prevents concurrent migration runs.
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock(7243001)"); err != nil {
		return eris.Wrap(err, "ingest: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(7243001)"); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "ingest: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "ingest: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "ingest: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO ingest.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "ingest: record migration %s", name)
		}
	}

	return nil
}

func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ingest`,
		`CREATE TABLE IF NOT EXISTS ingest.schema_migrations (
			filename text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "ingest: ensure migration table")
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM ingest.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "ingest: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
