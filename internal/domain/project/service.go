package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Jagard11/Launcher/internal/repository"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service exposes catalog reads and user-driven flag changes.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new project service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, logger: logger}
}

// Get fetches a project by ID, falling back to a path lookup for absolute paths.
func (s *Service) Get(ctx context.Context, idOrPath string) (*Project, error) {
	if strings.TrimSpace(idOrPath) == "" {
		return nil, ErrInvalidInput
	}

	var (
		proj *Project
		err  error
	)
	if strings.HasPrefix(idOrPath, "/") {
		proj, err = s.repo.GetByPath(ctx, idOrPath)
	} else {
		proj, err = s.repo.Get(ctx, idOrPath)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return proj, nil
}

// List returns project refs matching the options, favorites first, then by name.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]ProjectRef, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		return nil, ErrInvalidInput
	}

	projects, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	refs := make([]ProjectRef, 0, len(projects))
	for i := range projects {
		refs = append(refs, projects[i].Ref())
	}
	return refs, nil
}

// Search runs a full-text query over names, tooltips and descriptions.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 20
	}
	results, err := s.repo.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching projects: %w", err)
	}
	return results, nil
}

// SetFavorite toggles the favorite flag.
func (s *Service) SetFavorite(ctx context.Context, id string, favorite bool) error {
	if err := s.repo.SetFavorite(ctx, id, favorite); err != nil {
		return s.mapWriteError("setting favorite", err)
	}
	s.logger.Debug("favorite updated", "project_id", id, "favorite", favorite)
	return nil
}

// SetHidden toggles the hidden flag.
func (s *Service) SetHidden(ctx context.Context, id string, hidden bool) error {
	if err := s.repo.SetHidden(ctx, id, hidden); err != nil {
		return s.mapWriteError("setting hidden", err)
	}
	s.logger.Debug("hidden updated", "project_id", id, "hidden", hidden)
	return nil
}

// Stats returns catalog counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

func (s *Service) mapWriteError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrProjectNotFound
	case errors.Is(err, repository.ErrTombstoned):
		return ErrProjectRemoved
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
