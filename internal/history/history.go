// Package history records runs and their job outcomes in the state database
// so `pipegrid history` can show them later.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one invocation of `pipegrid run`.
type Run struct {
	ID         string
	Event      string
	Branch     string
	Revision   string
	Workflows  []string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       []JobRecord
}

// JobRecord is the final state of one node.
type JobRecord struct {
	Node         string
	Workflow     string
	Job          string
	Status       string
	AllowFailure bool
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Store reads and writes run history. The database must be opened with
// statedb.Open.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// StartRun records a run as running.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, event, branch, revision, workflows, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Event, r.Branch, r.Revision, strings.Join(r.Workflows, ","), string(RunRunning), r.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the final status of a run and of all its jobs.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, finishedAt time.Time, jobs []JobRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, string(status), finishedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	for _, j := range jobs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO job_results (run_id, node, workflow, job, status, allow_failure, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, j.Node, j.Workflow, j.Job, j.Status, j.AllowFailure, j.Error, unixNano(j.StartedAt), unixNano(j.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to record job %s: %w", j.Node, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first, without their jobs.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, branch, revision, workflows, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get returns one run with its jobs ordered by node.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event, branch, revision, workflows, status, started_at, finished_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT node, workflow, job, status, allow_failure, error, started_at, finished_at
		FROM job_results WHERE run_id = ? ORDER BY node`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var j JobRecord
		var started, finished int64
		if err := rows.Scan(&j.Node, &j.Workflow, &j.Job, &j.Status, &j.AllowFailure, &j.Error, &started, &finished); err != nil {
			return nil, err
		}
		j.StartedAt, j.FinishedAt = fromUnixNano(started), fromUnixNano(finished)
		r.Jobs = append(r.Jobs, j)
	}
	return r, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var workflows, status string
	var started, finished int64
	if err := sc.Scan(&r.ID, &r.Event, &r.Branch, &r.Revision, &workflows, &status, &started, &finished); err != nil {
		return nil, err
	}
	if workflows != "" {
		r.Workflows = strings.Split(workflows, ",")
	}
	r.Status = RunStatus(status)
	r.StartedAt, r.FinishedAt = fromUnixNano(started), fromUnixNano(finished)
	return &r, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
