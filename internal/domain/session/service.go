package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 10

// Service opens, closes and queries scan sessions.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new session service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Begin records the start of a scan.
func (s *Service) Begin(ctx context.Context, kind Kind, roots []string) (*Session, error) {
	if kind != KindQuick && kind != KindFull {
		return nil, ErrInvalidInput
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	sess := &Session{
		ID:        fmt.Sprintf("%s_%s", kind, id.String()),
		Kind:      kind,
		Status:    StatusRunning,
		Roots:     roots,
		StartedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Finish closes a session with its final counts. A non-nil scanErr marks it failed.
func (s *Service) Finish(ctx context.Context, sess *Session, counts Counts, scanErr error) error {
	if sess == nil {
		return ErrInvalidInput
	}
	if sess.Status != StatusRunning {
		return ErrSessionClosed
	}

	ended := s.now().UTC()
	sess.EndedAt = &ended
	sess.Counts = counts
	sess.Status = StatusCompleted
	if scanErr != nil {
		msg := scanErr.Error()
		sess.Status = StatusFailed
		sess.Error = &msg
	}

	if err := s.repo.Close(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		if errors.Is(err, repository.ErrConflict) {
			return ErrSessionClosed
		}
		return fmt.Errorf("closing session: %w", err)
	}

	s.logger.Info("scan session closed",
		"session_id", sess.ID,
		"kind", sess.Kind,
		"status", sess.Status,
		"discovered", counts.Discovered,
		"changed", counts.Changed,
		"removed", counts.Removed,
		"errored", counts.Errored,
		"duration", sess.Duration(),
	)
	return nil
}

// Get fetches a session by ID.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// History returns the most recent sessions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	sessions, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// LastCompleted returns the most recent completed session of a kind, or nil if none exists.
func (s *Service) LastCompleted(ctx context.Context, kind Kind) (*Session, error) {
	sess, err := s.repo.LastCompleted(ctx, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting last session: %w", err)
	}
	return sess, nil
}

// Cleanup deletes closed sessions older than the retention window.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, ErrInvalidInput
	}
	n, err := s.repo.DeleteBefore(ctx, s.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("old scan sessions removed", "count", n, "retention", retention)
	}
	return n, nil
}
