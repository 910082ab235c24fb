// Package pgmigrate applies embedded SQL migrations to PostgreSQL.
//
// Files are applied once each, in filename order, and recorded in a
// tracking table owned by the caller.
package pgmigrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Apply runs every *.sql file in dir of fsys that is not yet recorded in
// table. Each file runs as a single Exec; a failing file stops the run
// and is not recorded.
func Apply(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir, table string, logger *slog.Logger) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table))
	if err != nil {
		return fmt.Errorf("create migrations table %s: %w", table, err)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		err = pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE filename = $1)`, table),
			name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(fsys, dir+"/"+name)
		if readErr != nil {
			return fmt.Errorf("read migration %s: %w", name, readErr)
		}
		if _, execErr := pool.Exec(ctx, string(data)); execErr != nil {
			return fmt.Errorf("execute migration %s: %w", name, execErr)
		}
		if _, recErr := pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (filename) VALUES ($1)`, table), name,
		); recErr != nil {
			return fmt.Errorf("record migration %s: %w", name, recErr)
		}

		logger.Info("applied migration", slog.String("table", table), slog.String("file", name))
	}
	return nil
}
