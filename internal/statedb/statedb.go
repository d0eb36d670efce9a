// Package statedb opens the SQLite database that holds the cache index and
// run history, and keeps its schema current.
package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/ctxlog"
	_ "modernc.org/sqlite"
)

// FileName is the database file name inside the state directory.
const FileName = "pipegrid.db"

// migrations are applied in order; the index+1 of the last applied entry is
// stored in PRAGMA user_version. Append only.
var migrations = []string{
	`CREATE TABLE cache_entries (
		key        TEXT PRIMARY KEY,
		archive    TEXT NOT NULL,
		size       INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX cache_entries_created ON cache_entries (created_at);`,

	`CREATE TABLE runs (
		id          TEXT PRIMARY KEY,
		event       TEXT NOT NULL,
		branch      TEXT NOT NULL,
		revision    TEXT NOT NULL,
		workflows   TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE job_results (
		run_id        TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		node          TEXT NOT NULL,
		workflow      TEXT NOT NULL,
		job           TEXT NOT NULL,
		status        TEXT NOT NULL,
		allow_failure INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		started_at    INTEGER NOT NULL DEFAULT 0,
		finished_at   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, node)
	);
	CREATE INDEX runs_started ON runs (started_at);`,
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Version returns the schema version of db.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func migrate(ctx context.Context, db *sql.DB) error {
	current, err := Version(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", current, len(migrations))
	}

	logger := ctxlog.FromContext(ctx)
	for i := current; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.Debug("Applied database migration.", "version", i+1)
	}
	return nil
}
