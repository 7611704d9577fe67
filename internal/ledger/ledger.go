// Package ledger records ingestion jobs and their state transitions in
// SQLite, and answers duplicate-content lookups.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so that text ordering in SQL is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no job matches.
var ErrNotFound = errors.New("job not found")

// Job is the persisted view of one ingestion run.
type Job struct {
	ID          string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Slot        int       `json:"slot_id"` // -1 until indexed
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition is one recorded state change of a job.
type Transition struct {
	JobID string    `json:"job_id"`
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Store is a SQLite-backed ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			slot INTEGER NOT NULL DEFAULT -1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_hash_state ON jobs(content_hash, state)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			state TEXT NOT NULL,
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_job ON transitions(job_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record upserts job and appends a transition for its current state.
func (s *Store) Record(ctx context.Context, job Job) error {
	now := s.now().UTC()
	ts := now.Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, document_id, state, error, content_hash, slot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			content_hash = CASE WHEN excluded.content_hash != '' THEN excluded.content_hash ELSE jobs.content_hash END,
			slot = CASE WHEN excluded.slot >= 0 THEN excluded.slot ELSE jobs.slot END,
			updated_at = excluded.updated_at`,
		job.ID, job.DocumentID, job.State, job.Error, job.ContentHash, job.Slot, ts, ts)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", job.ID, err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO transitions (job_id, state, at) VALUES (?, ?, ?)`, job.ID, job.State, ts)
	if err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}
	return tx.Commit()
}

const jobColumns = `id, document_id, state, error, content_hash, slot, created_at, updated_at`

// Get returns the job with the given id.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// FindIndexedByHash returns the earliest job with the given content hash that
// reached the index (has a slot).
func (s *Store) FindIndexedByHash(ctx context.Context, hash string) (Job, error) {
	if hash == "" {
		return Job{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE content_hash = ? AND slot >= 0 ORDER BY created_at, rowid LIMIT 1`,
		hash)
	return scanJob(row)
}

// ListByDocument returns all jobs of a document, newest first.
func (s *Store) ListByDocument(ctx context.Context, documentID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE document_id = ? ORDER BY created_at DESC, rowid DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Transitions returns the state history of a job in order.
func (s *Store) Transitions(ctx context.Context, jobID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, state, at FROM transitions WHERE job_id = ? ORDER BY rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at string
		if err := rows.Scan(&t.JobID, &t.State, &at); err != nil {
			return nil, err
		}
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parsing transition time %q: %w", at, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var created, updated string
	err := row.Scan(&j.ID, &j.DocumentID, &j.State, &j.Error, &j.ContentHash, &j.Slot, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("scanning job: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Job{}, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at %q: %w", updated, err)
	}
	return j, nil
}
