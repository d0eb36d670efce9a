package cache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/zeebo/blake3"
)

// ErrMiss is returned by Lookup when no key matches.
var ErrMiss = errors.New("cache miss")

// Entry is one saved cache archive.
type Entry struct {
	Key       string
	Archive   string
	Size      int64
	CreatedAt time.Time
}

// Store indexes cache archives kept under a directory.
type Store struct {
	db  *sql.DB
	dir string
	now func() time.Time
}

// NewStore returns a store using db (see statedb) and keeping archives in dir.
func NewStore(db *sql.DB, dir string) *Store {
	return &Store{db: db, dir: dir, now: time.Now}
}

// Lookup finds the entry for key: an exact match first, otherwise the most
// recently saved entry whose key starts with key.
func (s *Store) Lookup(ctx context.Context, key string) (*Entry, error) {
	e, err := s.exact(ctx, key)
	if !errors.Is(err, ErrMiss) {
		return e, err
	}
	return s.scanOne(ctx, `SELECT key, archive, size, created_at FROM cache_entries
		WHERE substr(key, 1, length(?1)) = ?1
		ORDER BY created_at DESC, key DESC LIMIT 1`, key)
}

// Restore tries each key in order and returns the first hit.
func (s *Store) Restore(ctx context.Context, keys []string) (*Entry, error) {
	for _, key := range keys {
		e, err := s.Lookup(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		return e, err
	}
	return nil, ErrMiss
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	var e Entry
	var created int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.Key, &e.Archive, &e.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	e.CreatedAt = time.Unix(0, created)
	return &e, nil
}

// Open opens an entry's archive for reading.
func (s *Store) Open(e *Entry) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, e.Archive))
}

// Save stores the archive produced by write under key. Keys are immutable:
// if key already exists nothing is written and saved is false.
func (s *Store) Save(ctx context.Context, key string, write func(io.Writer) error) (saved bool, err error) {
	logger := ctxlog.FromContext(ctx).With("cache_key", key)

	if _, err := s.exact(ctx, key); err == nil {
		logger.Info("Cache key already exists, skipping save.")
		return false, nil
	} else if !errors.Is(err, ErrMiss) {
		return false, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(s.dir, ".save-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write cache archive: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}

	archive := archiveName(key)
	final := filepath.Join(s.dir, archive)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_entries (key, archive, size, created_at) VALUES (?, ?, ?, ?)`,
		key, archive, info.Size(), s.now().UnixNano())
	if err != nil {
		os.Remove(final)
		return false, fmt.Errorf("failed to index cache entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// A concurrent job saved the same key first.
		os.Remove(final)
		logger.Info("Cache key already exists, skipping save.")
		return false, nil
	}
	logger.Debug("Cache entry saved.", "archive", archive, "size", info.Size())
	return true, nil
}

func (s *Store) exact(ctx context.Context, key string) (*Entry, error) {
	return s.scanOne(ctx, `SELECT key, archive, size, created_at FROM cache_entries WHERE key = ?`, key)
}

// archiveName is unique per save so that concurrent saves never share a file.
func archiveName(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8]) + "-" + uuid.NewString()[:8] + ".tar.zst"
}

// List returns every entry, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, archive, size, created_at FROM cache_entries ORDER BY created_at DESC, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Key, &e.Archive, &e.Size, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries saved more than olderThan ago and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()
	rows, err := s.db.QueryContext(ctx, `SELECT archive FROM cache_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	var archives []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return 0, err
		}
		archives = append(archives, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, cutoff); err != nil {
		return 0, err
	}
	for _, a := range archives {
		if err := os.Remove(filepath.Join(s.dir, a)); err != nil && !errors.Is(err, os.ErrNotExist) {
			ctxlog.FromContext(ctx).Warn("Failed to remove cache archive.", "archive", a, "error", err)
		}
	}
	return len(archives), nil
}
