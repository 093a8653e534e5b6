package dbx

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every file in migrations/ in lexical order inside a
// tracking table migration_log, skipping files already recorded. This is
// a plain runner, not a full migration framework: the module's own SQL
// files are the only source of schema, matching the spec's choice to
// defer "migration tooling" as a feature while still needing a way to
// apply its own schema.
func Migrate(ctx context.Context, db *DB) error {
	if err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS migration_log (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("dbx: create migration_log: %w", err)
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("dbx: read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		row := db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM migration_log WHERE filename = $1)", name)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("dbx: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		contents, err := fs.ReadFile(migrationFiles, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("dbx: read migration %s: %w", name, err)
		}
		if err := db.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("dbx: apply migration %s: %w", name, err)
		}
		if err := db.Exec(ctx, "INSERT INTO migration_log (filename) VALUES ($1)", name); err != nil {
			return fmt.Errorf("dbx: record migration %s: %w", name, err)
		}
	}

	return nil
}
