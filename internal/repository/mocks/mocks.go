package mocks

import (
	"context"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/stretchr/testify/mock"
)

// ProjectRepository is a mock for project.Repository.
type ProjectRepository struct {
	mock.Mock
}

func projectOrNil(args mock.Arguments) (*project.Project, error) {
	if proj, ok := args.Get(0).(*project.Project); ok {
		return proj, args.Error(1)
	}
	return nil, args.Error(1)
}

func projectsOrNil(args mock.Arguments) ([]project.Project, error) {
	if list, ok := args.Get(0).([]project.Project); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) Reconcile(ctx context.Context, in project.ReconcileInput) (*project.ReconcileOutcome, error) {
	args := m.Called(ctx, in)
	if out, ok := args.Get(0).(*project.ReconcileOutcome); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	return projectOrNil(m.Called(ctx, id))
}

func (m *ProjectRepository) GetByPath(ctx context.Context, path string) (*project.Project, error) {
	return projectOrNil(m.Called(ctx, path))
}

func (m *ProjectRepository) List(ctx context.Context, opts project.ListOptions) ([]project.Project, error) {
	return projectsOrNil(m.Called(ctx, opts))
}

func (m *ProjectRepository) ListPathsUnder(ctx context.Context, root string) (map[string]string, error) {
	args := m.Called(ctx, root)
	if paths, ok := args.Get(0).(map[string]string); ok {
		return paths, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) Search(ctx context.Context, query string, limit int) ([]project.SearchResult, error) {
	args := m.Called(ctx, query, limit)
	if results, ok := args.Get(0).([]project.SearchResult); ok {
		return results, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) MarkDirty(ctx context.Context, id string, reason project.DirtyReason) (*project.Project, error) {
	return projectOrNil(m.Called(ctx, id, reason))
}

func (m *ProjectRepository) MarkAllDirty(ctx context.Context, reason project.DirtyReason) (int, error) {
	args := m.Called(ctx, reason)
	return args.Int(0), args.Error(1)
}

func (m *ProjectRepository) ListDirty(ctx context.Context, limit int) ([]project.Project, error) {
	return projectsOrNil(m.Called(ctx, limit))
}

func (m *ProjectRepository) Claim(ctx context.Context, opts project.ClaimOptions) ([]project.Claim, error) {
	args := m.Called(ctx, opts)
	if claims, ok := args.Get(0).([]project.Claim); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) ClearDirty(ctx context.Context, in project.ClearInput) (*project.Project, error) {
	return projectOrNil(m.Called(ctx, in))
}

func (m *ProjectRepository) Fail(ctx context.Context, in project.FailInput) (*project.Project, error) {
	return projectOrNil(m.Called(ctx, in))
}

func (m *ProjectRepository) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *ProjectRepository) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return m.Called(ctx, id, favorite).Error(0)
}

func (m *ProjectRepository) SetHidden(ctx context.Context, id string, hidden bool) error {
	return m.Called(ctx, id, hidden).Error(0)
}

func (m *ProjectRepository) SetScriptState(ctx context.Context, id string, hash *string, userModified bool) error {
	return m.Called(ctx, id, hash, userModified).Error(0)
}

func (m *ProjectRepository) Stats(ctx context.Context) (*project.Stats, error) {
	args := m.Called(ctx)
	if stats, ok := args.Get(0).(*project.Stats); ok {
		return stats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	return m.Called(ctx, id, token).Error(0)
}

func (m *ProjectRepository) ReleaseClaims(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *ProjectRepository) PurgeTombstones(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

// SessionRepository is a mock for session.Repository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	return m.Called(ctx, sess).Error(0)
}

func (m *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	args := m.Called(ctx, id)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Close(ctx context.Context, sess *session.Session) error {
	return m.Called(ctx, sess).Error(0)
}

func (m *SessionRepository) List(ctx context.Context, limit int) ([]session.Session, error) {
	args := m.Called(ctx, limit)
	if list, ok := args.Get(0).([]session.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) LastCompleted(ctx context.Context, kind session.Kind) (*session.Session, error) {
	args := m.Called(ctx, kind)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) DeleteBefore(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
