package project_test

import (
	"context"
	"testing"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/Jagard11/Launcher/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProjectService_GetByIDAndPath(t *testing.T) {
	ctx := context.Background()

	repo := &mocks.ProjectRepository{}
	repo.On("Get", ctx, "0190-id").Return(&project.Project{ID: "0190-id"}, nil)
	repo.On("GetByPath", ctx, "/srv/apps/demo").Return(&project.Project{ID: "other", Path: "/srv/apps/demo"}, nil)

	svc := project.NewService(repo, nil)

	proj, err := svc.Get(ctx, "0190-id")
	require.NoError(t, err)
	require.Equal(t, "0190-id", proj.ID)

	proj, err = svc.Get(ctx, "/srv/apps/demo")
	require.NoError(t, err)
	require.Equal(t, "other", proj.ID)
	repo.AssertExpectations(t)
}

func TestProjectService_GetNotFound(t *testing.T) {
	ctx := context.Background()

	repo := &mocks.ProjectRepository{}
	repo.On("Get", ctx, "missing").Return((*project.Project)(nil), repository.ErrNotFound)

	svc := project.NewService(repo, nil)
	_, err := svc.Get(ctx, "missing")
	require.ErrorIs(t, err, project.ErrProjectNotFound)

	_, err = svc.Get(ctx, "  ")
	require.ErrorIs(t, err, project.ErrInvalidInput)
}

func TestProjectService_ListClampsLimit(t *testing.T) {
	ctx := context.Background()

	repo := &mocks.ProjectRepository{}
	repo.On("List", ctx, mock.MatchedBy(func(opts project.ListOptions) bool {
		return opts.Limit == 1000
	})).Return([]project.Project{{ID: "a", Name: "alpha", Environment: project.Environment{Kind: "venv"}}}, nil)

	svc := project.NewService(repo, nil)
	refs, err := svc.List(ctx, project.ListOptions{Limit: 5000})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "venv", refs[0].EnvironmentKind)

	_, err = svc.List(ctx, project.ListOptions{Offset: -1})
	require.ErrorIs(t, err, project.ErrInvalidInput)
}

func TestProjectService_SetFavoriteMapsTombstone(t *testing.T) {
	ctx := context.Background()

	repo := &mocks.ProjectRepository{}
	repo.On("SetFavorite", ctx, "gone", true).Return(repository.ErrTombstoned)
	repo.On("SetHidden", ctx, "nope", true).Return(repository.ErrNotFound)

	svc := project.NewService(repo, nil)
	require.ErrorIs(t, svc.SetFavorite(ctx, "gone", true), project.ErrProjectRemoved)
	require.ErrorIs(t, svc.SetHidden(ctx, "nope", true), project.ErrProjectNotFound)
}

func TestProjectService_SearchValidation(t *testing.T) {
	repo := &mocks.ProjectRepository{}
	svc := project.NewService(repo, nil)
	_, err := svc.Search(context.Background(), "", 10)
	require.ErrorIs(t, err, project.ErrInvalidInput)
}
