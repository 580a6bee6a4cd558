package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationResult reports what Migrate did.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// Migrate applies the embedded *.up.sql files for the connected dialect in
// name order. Applied files are tracked in schema_migrations.
func (db *DB) Migrate(ctx context.Context) (*MigrationResult, error) {
	dir := "migrations/sqlite"
	if db.driver == DriverPostgres {
		dir = "migrations/postgres"
	}

	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &MigrationResult{}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		var exists int
		err := db.queryRow(ctx, db.sql, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return result, fmt.Errorf("check applied %s: %w", name, err)
		}
		if exists > 0 {
			result.Skipped = append(result.Skipped, name)
			continue
		}

		contents, err := fs.ReadFile(migrationsFS, path.Join(dir, name))
		if err != nil {
			return result, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		err = db.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range splitStatements(string(contents)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("execute %s: %w", name, err)
				}
			}
			_, err := db.exec(ctx, tx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, utc(time.Now()))
			return err
		})
		if err != nil {
			return result, err
		}

		db.logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
		result.Applied = append(result.Applied, name)
	}

	return result, nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
