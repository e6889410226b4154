package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// Job states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Queue persists jobs in a SQLite table. It implements broker.Queue and
// broker.JobSource so a JobRunner can drain it in-process.
type Queue struct {
	db  *sql.DB
	own bool
	now func() time.Time
}

var (
	_ cbroker.Queue     = (*Queue)(nil)
	_ cbroker.JobSource = (*Queue)(nil)
)

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the clock used for delays and timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open opens (and creates if needed) the database at path and ensures the
// jobs table exists. Close releases the handle.
func Open(ctx context.Context, path string, opts ...Option) (*Queue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", berr.ErrConfiguration)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// one writer keeps Reserve's claim atomic without busy retries
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	q := New(db, opts...)
	q.own = true

	return q, nil
}

// New wraps an already bootstrapped database. The caller keeps ownership of db.
func New(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{db: db, now: time.Now}
	for _, o := range opts {
		o(q)
	}

	return q
}

// Bootstrap creates the jobs table and its index if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS broker_jobs (
  id           TEXT PRIMARY KEY,
  queue        TEXT NOT NULL,
  service      TEXT NOT NULL,
  operation    TEXT NOT NULL,
  payload      TEXT NOT NULL,
  headers      TEXT,
  priority     INTEGER NOT NULL DEFAULT 0,
  delay        INTEGER NOT NULL DEFAULT 0,
  ttr          INTEGER NOT NULL DEFAULT 0,
  status       TEXT NOT NULL,
  attempt      INTEGER NOT NULL DEFAULT 0,
  created_at   INTEGER NOT NULL,
  ready_at     INTEGER NOT NULL,
  started_at   INTEGER,
  completed_at INTEGER,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS broker_jobs_ready_idx ON broker_jobs(status, priority, ready_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}

	return nil
}

// Push stores job as queued; it becomes reservable once its delay passed.
func (q *Queue) Push(ctx context.Context, job cbroker.Job, opts cbroker.QueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("sqlite push serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	var headers any
	if len(opts.Headers) > 0 {
		b, err := json.Marshal(opts.Headers)
		if err != nil {
			return "", fmt.Errorf("sqlite push headers: %w", errors.Join(berr.ErrSerializationFailed, err))
		}

		headers = string(b)
	}

	id := uuid.NewString()
	now := q.now().UTC()
	ready := now.Add(time.Duration(opts.DelaySeconds) * time.Second)

	_, err = q.db.ExecContext(ctx, `
INSERT INTO broker_jobs(
  id, queue, service, operation, payload, headers, priority, delay, ttr, status, created_at, ready_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, opts.Queue, job.Service, job.Operation, string(payload), headers,
		opts.Priority, opts.DelaySeconds, opts.TTRSeconds, StatusQueued, now.UnixNano(), ready.UnixNano())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		return "", fmt.Errorf("sqlite push: %w", errors.Join(berr.ErrEnqueueFailed, err))
	}

	return id, nil
}

// Reserve claims the ready job with the highest priority, oldest first, and
// marks it running. It returns errors.ErrQueueEmpty when nothing is ready.
func (q *Queue) Reserve(ctx context.Context) (cbroker.Delivery, error) {
	now := q.now().UTC().UnixNano()

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM broker_jobs
  WHERE status = ? AND ready_at <= ?
  ORDER BY priority DESC, created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE broker_jobs
SET status = ?, started_at = ?, attempt = attempt + 1
WHERE id IN (SELECT id FROM next)
RETURNING id, queue, payload, headers, priority, delay, ttr, attempt;
`, StatusQueued, now, StatusRunning, now)

	var (
		d       cbroker.Delivery
		payload string
		headers sql.NullString
	)

	err := row.Scan(&d.ID, &d.Options.Queue, &payload, &headers,
		&d.Options.Priority, &d.Options.DelaySeconds, &d.Options.TTRSeconds, &d.Attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return cbroker.Delivery{}, berr.ErrQueueEmpty
	}

	if err != nil {
		return cbroker.Delivery{}, fmt.Errorf("reserve job: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &d.Job); err != nil {
		return cbroker.Delivery{}, fmt.Errorf("reserve job %s: %w", d.ID, errors.Join(berr.ErrSerializationFailed, err))
	}

	if headers.Valid {
		if err := json.Unmarshal([]byte(headers.String), &d.Options.Headers); err != nil {
			return cbroker.Delivery{}, fmt.Errorf("reserve job %s headers: %w", d.ID, errors.Join(berr.ErrSerializationFailed, err))
		}
	}

	return d, nil
}

// Complete marks a reserved job terminal. A nil runErr means success.
func (q *Queue) Complete(ctx context.Context, id string, runErr error) error {
	if id == "" {
		return fmt.Errorf("%w: job id is empty", berr.ErrConfiguration)
	}

	status := StatusSucceeded

	var lastError any
	if runErr != nil {
		status = StatusFailed
		lastError = runErr.Error()
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE broker_jobs
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, q.now().UTC().UnixNano(), lastError, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete job %s: %w", id, sql.ErrNoRows)
	}

	return nil
}

// Status returns the state and last error recorded for id.
func (q *Queue) Status(ctx context.Context, id string) (string, string, error) {
	var (
		status    string
		lastError sql.NullString
	)

	err := q.db.QueryRowContext(ctx, `SELECT status, last_error FROM broker_jobs WHERE id = ?;`, id).Scan(&status, &lastError)
	if err != nil {
		return "", "", fmt.Errorf("job status %s: %w", id, err)
	}

	return status, lastError.String, nil
}

// Pending counts queued jobs, ready or not.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM broker_jobs WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}

	return n, nil
}

// Close releases the database when the Queue opened it.
func (q *Queue) Close() error {
	if q == nil || q.db == nil || !q.own {
		return nil
	}

	return q.db.Close()
}
