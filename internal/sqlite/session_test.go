package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/stretchr/testify/require"
)

func newSession(id string, kind session.Kind, started time.Time) *session.Session {
	return &session.Session{
		ID:        id,
		Kind:      kind,
		Status:    session.StatusRunning,
		Roots:     []string{"/srv/ai"},
		StartedAt: started,
	}
}

func closeSession(sess *session.Session, status session.Status, at time.Time) {
	sess.Status = status
	sess.EndedAt = &at
}

func TestSessionRepository_CreateGetClose(t *testing.T) {
	db := NewTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	sess := newSession("quick_1", session.KindQuick, started)
	require.NoError(t, repo.Create(ctx, sess))
	require.ErrorIs(t, repo.Create(ctx, sess), repository.ErrConflict)

	got, err := repo.Get(ctx, "quick_1")
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, got.Status)
	require.Equal(t, []string{"/srv/ai"}, got.Roots)
	require.Nil(t, got.EndedAt)

	sess.Counts = session.Counts{Discovered: 2, Changed: 1, Unchanged: 4, Removed: 1}
	closeSession(sess, session.StatusCompleted, started.Add(3*time.Second))
	require.NoError(t, repo.Close(ctx, sess))

	got, err = repo.Get(ctx, "quick_1")
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, got.Status)
	require.Equal(t, sess.Counts, got.Counts)
	require.Equal(t, 3*time.Second, got.Duration())

	// Closed sessions are immutable
	require.ErrorIs(t, repo.Close(ctx, sess), repository.ErrConflict)

	missing := newSession("nope", session.KindQuick, started)
	closeSession(missing, session.StatusFailed, started)
	require.ErrorIs(t, repo.Close(ctx, missing), repository.ErrNotFound)

	_, err = repo.Get(ctx, "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionRepository_ListAndLastCompleted(t *testing.T) {
	db := NewTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s1 := newSession("full_1", session.KindFull, base)
	s2 := newSession("quick_1", session.KindQuick, base.Add(time.Minute))
	s3 := newSession("quick_2", session.KindQuick, base.Add(2*time.Minute))
	for _, s := range []*session.Session{s1, s2, s3} {
		require.NoError(t, repo.Create(ctx, s))
	}
	closeSession(s1, session.StatusCompleted, base.Add(30*time.Second))
	closeSession(s2, session.StatusCompleted, base.Add(70*time.Second))
	errText := "root unreadable"
	s3.Error = &errText
	closeSession(s3, session.StatusFailed, base.Add(130*time.Second))
	for _, s := range []*session.Session{s1, s2, s3} {
		require.NoError(t, repo.Close(ctx, s))
	}

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "quick_2", list[0].ID)
	require.Equal(t, "root unreadable", *list[0].Error)

	last, err := repo.LastCompleted(ctx, session.KindQuick)
	require.NoError(t, err)
	require.Equal(t, "quick_1", last.ID)

	n, err := repo.DeleteBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = repo.LastCompleted(ctx, session.KindFull)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
