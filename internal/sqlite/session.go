package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/repository"
)

const sessionColumnsSQL = `
	id, kind, status, roots, discovered, changed, unchanged, removed, errored,
	error, started_at, ended_at`

// SessionRepository persists scan sessions
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess    session.Session
		roots   string
		errText sql.NullString
		endedAt sql.NullTime
	)
	err := row.Scan(
		&sess.ID,
		&sess.Kind,
		&sess.Status,
		&roots,
		&sess.Counts.Discovered,
		&sess.Counts.Changed,
		&sess.Counts.Unchanged,
		&sess.Counts.Removed,
		&sess.Counts.Errored,
		&errText,
		&sess.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	if roots != "" {
		if err := json.Unmarshal([]byte(roots), &sess.Roots); err != nil {
			return nil, fmt.Errorf("failed to decode roots: %w", err)
		}
	}
	if errText.Valid {
		sess.Error = &errText.String
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

// Create inserts a running session
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	roots, err := json.Marshal(sess.Roots)
	if err != nil {
		return fmt.Errorf("failed to encode roots: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scan_sessions (id, kind, status, roots, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Kind, sess.Status, string(roots), sess.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumnsSQL+` FROM scan_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Close writes the final counts. Closed sessions are immutable.
func (r *SessionRepository) Close(ctx context.Context, sess *session.Session) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE scan_sessions
		SET status = ?, discovered = ?, changed = ?, unchanged = ?, removed = ?, errored = ?,
		    error = ?, ended_at = ?
		WHERE id = ? AND status = 'running'`,
		sess.Status,
		sess.Counts.Discovered,
		sess.Counts.Changed,
		sess.Counts.Unchanged,
		sess.Counts.Removed,
		sess.Counts.Errored,
		sess.Error,
		sess.EndedAt,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		err = r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM scan_sessions WHERE id = ?)`, sess.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}
	return nil
}

// List returns the most recent sessions, newest first
func (r *SessionRepository) List(ctx context.Context, limit int) ([]session.Session, error) {
	query := `SELECT ` + sessionColumnsSQL + ` FROM scan_sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// LastCompleted returns the newest completed session of the given kind
func (r *SessionRepository) LastCompleted(ctx context.Context, kind session.Kind) (*session.Session, error) {
	sess, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumnsSQL+` FROM scan_sessions
		WHERE kind = ? AND status = 'completed'
		ORDER BY started_at DESC, id DESC LIMIT 1`, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last session: %w", err)
	}
	return sess, nil
}

// DeleteBefore removes closed sessions that started before the cutoff
func (r *SessionRepository) DeleteBefore(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM scan_sessions WHERE status != 'running' AND started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
