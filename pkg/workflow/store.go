package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solace-labs/sessiond/pkg/storage"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step names the resume point of a run. A run resumes at its recorded step;
// completed steps are never re-executed after a crash.
type Step string

const (
	StepFetch    Step = "fetch"
	StepGenerate Step = "generate"
	StepCommit   Step = "commit"
)

// Run is one durable workflow invocation.
type Run struct {
	JobID      string
	RunID      string
	SessionID  string
	Status     Status
	Step       Step
	Attempts   int
	Checkpoint string
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists workflow runs and their step checkpoints.
type Store struct {
	db     *storage.DB
	logger zerolog.Logger
}

// NewStore creates the workflow run store and initializes its schema.
func NewStore(db *storage.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "workflow").Logger(),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize workflow schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			job_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
			step TEXT NOT NULL CHECK (step IN ('fetch', 'generate', 'commit')),
			attempts INTEGER NOT NULL DEFAULT 0,
			checkpoint TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status, updated_at);
	`
	_, err := s.db.SQL().Exec(schema)
	return err
}

// Create records a new pending run. A duplicate job id is rejected so
// repeated triggers with the same id collapse to one run.
func (s *Store) Create(ctx context.Context, jobID, runID, sessionID string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO workflow_runs (job_id, run_id, session_id, status, step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, jobID, runID, sessionID, StatusPending, StepFetch, now, now)
	if err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// Get loads one run by job id.
func (s *Store) Get(ctx context.Context, jobID string) (*Run, error) {
	row := s.db.SQL().QueryRowContext(ctx, `
		SELECT job_id, run_id, session_id, status, step, attempts, checkpoint, last_error, created_at, updated_at
		FROM workflow_runs WHERE job_id = ?
	`, jobID)
	return scanRun(row)
}

// Incomplete returns runs that were pending or mid-flight, oldest first.
// Used on startup to resume work interrupted by a crash.
func (s *Store) Incomplete(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT job_id, run_id, session_id, status, step, attempts, checkpoint, last_error, created_at, updated_at
		FROM workflow_runs
		WHERE status IN (?, ?)
		ORDER BY created_at ASC
	`, StatusPending, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkRunning transitions a run to running and counts the attempt.
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, `
		UPDATE workflow_runs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE job_id = ?
	`, StatusRunning, time.Now().UnixMilli(), jobID)
}

// SaveCheckpoint durably records a completed step's output and advances the
// resume point. A resumed run skips every step already checkpointed.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID string, next Step, checkpoint string) error {
	return s.update(ctx, `
		UPDATE workflow_runs SET step = ?, checkpoint = ?, updated_at = ? WHERE job_id = ?
	`, next, checkpoint, time.Now().UnixMilli(), jobID)
}

// MarkCompleted finishes a run.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.update(ctx, `
		UPDATE workflow_runs SET status = ?, last_error = '', updated_at = ? WHERE job_id = ?
	`, StatusCompleted, time.Now().UnixMilli(), jobID)
}

// MarkFailed records a terminal failure after retries are exhausted.
func (s *Store) MarkFailed(ctx context.Context, jobID string, cause error) error {
	return s.update(ctx, `
		UPDATE workflow_runs SET status = ?, last_error = ?, updated_at = ? WHERE job_id = ?
	`, StatusFailed, cause.Error(), time.Now().UnixMilli(), jobID)
}

// RecordError notes a retryable failure without changing the run's status.
func (s *Store) RecordError(ctx context.Context, jobID string, cause error) error {
	return s.update(ctx, `
		UPDATE workflow_runs SET last_error = ?, updated_at = ? WHERE job_id = ?
	`, cause.Error(), time.Now().UnixMilli(), jobID)
}

// Reap deletes terminal runs older than the cutoff and returns the count.
func (s *Store) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.SQL().ExecContext(ctx, `
		DELETE FROM workflow_runs WHERE status IN (?, ?) AND updated_at < ?
	`, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap workflow runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("reaped", n).Msg("Reaped finished workflow runs")
	}
	return int(n), nil
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update workflow run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workflow run not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var createdAt, updatedAt int64
	err := row.Scan(
		&r.JobID, &r.RunID, &r.SessionID, &r.Status, &r.Step,
		&r.Attempts, &r.Checkpoint, &r.LastError, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow run: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)
	return &r, nil
}
