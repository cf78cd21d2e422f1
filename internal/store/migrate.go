package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.uber.org/zap"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migrationFile struct {
	version string
	name    string
	path    string
}

// listMigrations returns the files of one direction ordered by version.
func listMigrations(dir, direction string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		files = append(files, migrationFile{
			version: match[1],
			name:    entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ApplyMigrations runs every pending up migration, each in its own
// transaction, and records it in schema_migrations.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	files, err := listMigrations(dir, "up")
	if err != nil {
		return err
	}

	for _, file := range files {
		migrated, err := isMigrated(ctx, db, file.name)
		if err != nil {
			return err
		}
		if migrated {
			continue
		}
		contents, err := os.ReadFile(file.path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.name, err)
		}
		err = withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", file.name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, file.name); err != nil {
				return fmt.Errorf("record migration %s: %w", file.name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info("migration applied", zap.String("version", file.name))
	}
	return nil
}

// RollbackLatest reverts the most recently applied migration that has a
// matching down file. It returns the reverted version, or "" when nothing is
// applied.
func RollbackLatest(ctx context.Context, db *sql.DB, dir string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return "", err
	}
	ups, err := listMigrations(dir, "up")
	if err != nil {
		return "", err
	}
	downs, err := listMigrations(dir, "down")
	if err != nil {
		return "", err
	}
	downByVersion := make(map[string]migrationFile, len(downs))
	for _, down := range downs {
		downByVersion[down.version] = down
	}

	for i := len(ups) - 1; i >= 0; i-- {
		up := ups[i]
		migrated, err := isMigrated(ctx, db, up.name)
		if err != nil {
			return "", err
		}
		if !migrated {
			continue
		}
		down, ok := downByVersion[up.version]
		if !ok {
			return "", fmt.Errorf("migration %s has no down file", up.name)
		}
		contents, err := os.ReadFile(down.path)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", down.name, err)
		}
		err = withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", down.name, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, up.name); err != nil {
				return fmt.Errorf("forget migration %s: %w", up.name, err)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		logger.Info("migration reverted", zap.String("version", up.name))
		return up.name, nil
	}
	return "", nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
