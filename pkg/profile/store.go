// Package profile provides the durable long-term memory record, exactly one
// per session: the derived summary plus the pending-turn counter that drives
// summarization scheduling.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/solace-labs/sessiond/internal/tracing"
	"github.com/solace-labs/sessiond/pkg/storage"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Profile is the long-term memory record for a session.
type Profile struct {
	Summary string `json:"summary"`
	// UpdatedAt is nil until the first summarization commit.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	// PendingTurns counts turns appended since the last summary commit.
	// Only a successful Commit resets it to zero.
	PendingTurns int `json:"pending_turns"`
}

// Store is the profile store.
type Store struct {
	db     *storage.DB
	logger zerolog.Logger
}

// NewStore creates the profile store and initializes its schema.
func NewStore(db *storage.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "profile").Logger(),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize profile schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			session_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			updated_at INTEGER,
			pending_turns INTEGER NOT NULL DEFAULT 0 CHECK (pending_turns >= 0)
		);
	`
	_, err := s.db.SQL().Exec(schema)
	return err
}

// Ensure creates the profile row with defaults when absent. Idempotent, called
// by the session actor on every activation before any other operation.
func (s *Store) Ensure(ctx context.Context, sessionID string) error {
	if err := transcript.ValidateSessionID(sessionID); err != nil {
		return err
	}

	_, err := s.db.SQL().ExecContext(ctx,
		"INSERT OR IGNORE INTO profiles (session_id, summary, pending_turns) VALUES (?, '', 0)",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// Read returns the profile, or the empty default when none exists.
func (s *Store) Read(ctx context.Context, sessionID string) (Profile, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.profile",
		"profile.read",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	if err := transcript.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Profile{}, err
	}

	var p Profile
	var updatedMs sql.NullInt64
	err := s.db.SQL().QueryRowContext(ctx,
		"SELECT summary, updated_at, pending_turns FROM profiles WHERE session_id = ?",
		sessionID,
	).Scan(&p.Summary, &updatedMs, &p.PendingTurns)
	if err == sql.ErrNoRows {
		return Profile{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}

	if updatedMs.Valid {
		t := time.UnixMilli(updatedMs.Int64)
		p.UpdatedAt = &t
	}
	return p, nil
}

// IncrementPending adds n to the pending-turn counter and returns the new
// value. The counter is never decremented here; only Commit resets it.
func (s *Store) IncrementPending(ctx context.Context, sessionID string, n int) (int, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.profile",
		"profile.increment_pending",
		attribute.String("session_id", sessionID),
		attribute.Int("n", n),
	)
	defer span.End()

	if err := transcript.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("pending increment cannot be negative")
	}

	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO profiles (session_id, summary, pending_turns) VALUES (?, '', 0)",
		sessionID,
	); err != nil {
		return 0, fmt.Errorf("failed to ensure profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE profiles SET pending_turns = pending_turns + ? WHERE session_id = ?",
		n, sessionID,
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to increment pending count: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT pending_turns FROM profiles WHERE session_id = ?", sessionID,
	).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to read pending count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to commit pending increment: %w", err)
	}

	return count, nil
}

// Commit atomically sets the summary, stamps updated_at, and resets the
// pending-turn counter to zero. A single UPDATE so a crash cannot leave the
// summary written but the counter unreset. Idempotent for a given summary.
func (s *Store) Commit(ctx context.Context, sessionID, summary string, now time.Time) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.profile",
		"profile.commit",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err := transcript.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res, err := s.db.SQL().ExecContext(ctx, `
		INSERT INTO profiles (session_id, summary, updated_at, pending_turns)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			updated_at = excluded.updated_at,
			pending_turns = 0
	`, sessionID, summary, now.UnixMilli())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit profile: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logger.Info().
			Str("session_id", sessionID).
			Int("summary_len", len(summary)).
			Msg("Profile committed")
	}
	return nil
}
