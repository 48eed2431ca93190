// Package jobstore persists pipeline runs in SQLite so job status
// survives restarts and the jobs API has a durable record.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one pipeline run.
type Job struct {
	ID             string
	SourceKind     string
	SourceRef      string
	LanguageCode   string
	SourceLanguage string
	TargetLanguage string
	Status         Status
	Stage          string
	Artifact       string // storage key of the primary subtitle artifact
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// timeFormat is fixed-width so lexicographic ORDER BY on the stored
// text matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    source_kind     TEXT NOT NULL,
    source_ref      TEXT NOT NULL,
    language_code   TEXT NOT NULL,
    source_language TEXT NOT NULL,
    target_language TEXT NOT NULL,
    status          TEXT NOT NULL,
    stage           TEXT NOT NULL DEFAULT '',
    artifact        TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
`

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the jobs database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new pending job.
func (s *Store) Create(ctx context.Context, j *Job) error {
	now := time.Now().UTC()
	j.Status = StatusPending
	j.CreatedAt = now
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
            id, source_kind, source_ref, language_code, source_language,
            target_language, status, stage, artifact, error, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SourceKind, j.SourceRef, j.LanguageCode, j.SourceLanguage,
		j.TargetLanguage, j.Status, j.Stage, j.Artifact, j.Error,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// SetStage records the job's current pipeline stage and marks it running.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, stage = ?, updated_at = ? WHERE id = ?`,
		StatusRunning, stage, now(), id)
}

// MarkDone records success and the primary artifact key.
func (s *Store) MarkDone(ctx context.Context, id, artifact string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, artifact = ?, error = '', updated_at = ? WHERE id = ?`,
		StatusDone, artifact, now(), id)
}

// MarkFailed records the failing stage and error message.
func (s *Store) MarkFailed(ctx context.Context, id, stage, errMsg string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, stage = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, stage, errMsg, now(), id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_kind, source_ref, language_code, source_language,
                target_language, status, stage, artifact, error, created_at, updated_at
         FROM jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_kind, source_ref, language_code, source_language,
                target_language, status, stage, artifact, error, created_at, updated_at
         FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var j Job
	var created, updated string
	err := sc.Scan(&j.ID, &j.SourceKind, &j.SourceRef, &j.LanguageCode,
		&j.SourceLanguage, &j.TargetLanguage, &j.Status, &j.Stage,
		&j.Artifact, &j.Error, &created, &updated)
	if err != nil {
		return nil, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updated, err)
	}
	return &j, nil
}

func now() string {
	return time.Now().UTC().Format(timeFormat)
}
