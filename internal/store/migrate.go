package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded migration files for a dialect.
func Migrations(dialect Dialect) (fs.FS, error) {
	sub, err := fs.Sub(migrationFiles, path.Join("migrations", string(dialect)))
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", dialect, err)
	}
	return sub, nil
}

func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	files, err := Migrations(dialect)
	if err != nil {
		return err
	}
	return applyMigrations(ctx, db, dialect, files)
}

func applyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, files fs.FS) error {
	if err := ensureMigrationsTable(ctx, db, dialect); err != nil {
		return err
	}

	names, err := migrationNames(files, ".up.sql")
	if err != nil {
		return err
	}

	for _, version := range names {
		if migrated, err := isMigrated(ctx, db, dialect, version); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := fs.ReadFile(files, version)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, dialect.rebind(`INSERT INTO schema_migrations(version) VALUES($1)`), version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}

	return nil
}

// RevertMigrations runs every applied down migration, newest first.
func RevertMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	files, err := Migrations(dialect)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db, dialect); err != nil {
		return err
	}

	downs, err := migrationNames(files, ".down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, down := range downs {
		version := strings.TrimSuffix(down, ".down.sql") + ".up.sql"
		migrated, err := isMigrated(ctx, db, dialect, version)
		if err != nil {
			return err
		}
		if !migrated {
			continue
		}

		contents, err := fs.ReadFile(files, down)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", down, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", down, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", down, err)
		}
		if _, err := tx.ExecContext(ctx, dialect.rebind(`DELETE FROM schema_migrations WHERE version=$1`), version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("unrecord migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", down, err)
		}
	}
	return nil
}

func migrationNames(files fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if dialect == SQLite {
		ddl = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			)
		`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, dialect Dialect, version string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, dialect.rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version=$1`), version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return count > 0, nil
}
