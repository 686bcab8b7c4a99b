// Package transcript provides the durable append-only turn log, one logical
// log per session.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/internal/tracing"
	"github.com/solace-labs/sessiond/pkg/storage"
)

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single conversation turn. Turns are immutable once written.
type Turn struct {
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrSearchUnavailable is returned by Search when the SQLite build does not
// include the FTS5 module.
var ErrSearchUnavailable = fmt.Errorf("transcript search unavailable: sqlite built without fts5")

// Store is the transcript store. All writes for a session are serialized by
// the owning session actor; the store itself only guarantees per-statement
// atomicity and monotonic sequence assignment.
type Store struct {
	db     *storage.DB
	logger zerolog.Logger
	fts    bool
}

// NewStore creates the transcript store and initializes its schema.
func NewStore(db *storage.DB, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "transcript").Logger(),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize transcript schema: %w", err)
	}
	return s, nil
}

// initSchema creates the turns tables. Safe to re-run on every activation.
// The FTS5 index is best effort: go-sqlite3 only ships the module when built
// with the sqlite_fts5 tag, and the transcript log must work without it.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	`
	if _, err := s.db.SQL().Exec(schema); err != nil {
		return err
	}

	_, err := s.db.SQL().Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
			session_id UNINDEXED,
			seq UNINDEXED,
			content,
			tokenize='porter unicode61'
		)
	`)
	if err != nil {
		if !strings.Contains(err.Error(), "fts5") {
			return err
		}
		s.logger.Warn().Err(err).Msg("FTS5 unavailable, transcript search disabled")
		return nil
	}
	s.fts = true
	return nil
}

// SearchAvailable reports whether full-text search is backed by an FTS5 index.
func (s *Store) SearchAvailable() bool {
	return s.fts
}

// ValidateSessionID validates a session identifier before it is used as a key.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(sessionID) > 128 {
		return fmt.Errorf("session id too long")
	}
	if strings.ContainsAny(sessionID, "\x00\n\r") {
		return fmt.Errorf("session id contains control characters")
	}
	return nil
}

// Append appends a turn and returns the assigned sequence id. The sequence is
// strictly increasing per session and assigned inside a transaction so insert
// order equals sequence order.
func (s *Store) Append(ctx context.Context, sessionID string, role Role, content string) (int64, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.transcript",
		"transcript.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", string(role)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	defer func() {
		observability.RecordTurnAppend(string(role), time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if role != RoleUser && role != RoleAssistant {
		return 0, fmt.Errorf("invalid role: %s", role)
	}
	// Assistant turns may be empty: a provider can finish a stream without
	// emitting content, and the turn still belongs in the transcript. User
	// turns are validated before they reach the store.
	if role == RoleUser && content == "" {
		return 0, fmt.Errorf("user turn content cannot be empty")
	}

	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?",
		sessionID,
	).Scan(&seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to assign sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, seq, string(role), content, time.Now().UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to insert turn: %w", err)
	}

	if s.fts {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO turns_fts (session_id, seq, content) VALUES (?, ?, ?)",
			sessionID, seq, content,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to index turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}

	logger.Debug().
		Str("session_id", sessionID).
		Str("role", string(role)).
		Int64("seq", seq).
		Msg("Turn appended")

	return seq, nil
}

// Recent returns at most limit newest turns, oldest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.transcript",
		"transcript.recent",
		attribute.String("session_id", sessionID),
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordTranscriptRead(time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if limit <= 0 {
		return []Turn{}, nil
	}

	// Newest N via the inner query, flipped back to chronological order.
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT seq, role, content, created_at FROM (
			SELECT seq, role, content, created_at
			FROM turns
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, sessionID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Count returns the number of turns in a session's transcript.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return 0, err
	}

	var count int
	err := s.db.SQL().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turns WHERE session_id = ?", sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// Search performs FTS5 keyword search over a session's transcript.
func (s *Store) Search(ctx context.Context, sessionID, query string, limit int) ([]Turn, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sessiond.transcript",
		"transcript.search",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	if !s.fts {
		return nil, ErrSearchUnavailable
	}
	if err := ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if query == "" {
		return []Turn{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT t.seq, t.role, t.content, t.created_at
		FROM turns_fts f
		JOIN turns t ON t.session_id = f.session_id AND t.seq = f.seq
		WHERE turns_fts MATCH ? AND f.session_id = ?
		ORDER BY bm25(turns_fts)
		LIMIT ?
	`, query, sessionID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to search turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// SessionIDs lists session ids that have at least one turn.
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQL().QueryContext(ctx, "SELECT DISTINCT session_id FROM turns")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Trim deletes the oldest turns beyond maxTurns and returns how many were
// removed. Used by the retention sweep; never called on the chat path.
func (s *Store) Trim(ctx context.Context, sessionID string, maxTurns int) (int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return 0, err
	}
	if maxTurns <= 0 {
		return 0, nil
	}

	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cutoff sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MIN(seq) FROM (
			SELECT seq FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		)
	`, sessionID, maxTurns).Scan(&cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find retention cutoff: %w", err)
	}
	if !cutoff.Valid {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM turns WHERE session_id = ? AND seq < ?", sessionID, cutoff.Int64)
	if err != nil {
		return 0, fmt.Errorf("failed to trim turns: %w", err)
	}
	if s.fts {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM turns_fts WHERE session_id = ? AND seq < ?", sessionID, cutoff.Int64); err != nil {
			return 0, fmt.Errorf("failed to trim turn index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trim: %w", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.logger.Info().
			Str("session_id", sessionID).
			Int64("deleted", deleted).
			Msg("Transcript trimmed")
	}
	return int(deleted), nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	turns := []Turn{}
	for rows.Next() {
		var t Turn
		var role string
		var createdMs int64
		if err := rows.Scan(&t.Seq, &role, &t.Content, &createdMs); err != nil {
			return nil, err
		}
		t.Role = Role(role)
		t.CreatedAt = time.UnixMilli(createdMs)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
