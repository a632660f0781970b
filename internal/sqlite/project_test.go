package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/stretchr/testify/require"
)

func reconcileInput(path, fp string) project.ReconcileInput {
	return project.ReconcileInput{
		Path:        path,
		Root:        "/srv",
		Name:        path[len("/srv/"):],
		Fingerprint: fp,
		Environment: project.Environment{Kind: "venv", Activate: path + "/venv/bin/activate"},
	}
}

func heuristicArtifacts(cmd string) project.Artifacts {
	conf := 0.7
	desc := "A demo app"
	return project.Artifacts{
		Description:      &desc,
		LaunchCommand:    &cmd,
		LaunchConfidence: &conf,
		LaunchMethod:     project.MethodHeuristic,
	}
}

func claimOne(t *testing.T, repo *ProjectRepository) project.Claim {
	t.Helper()
	claims, err := repo.Claim(context.Background(), project.ClaimOptions{Limit: 1, Owner: "test"})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	return claims[0]
}

func TestProjectRepository_ReconcileCreatesDirty(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	require.Equal(t, project.ReconcileCreated, out.Result)
	require.True(t, out.BecameDirty)
	require.Equal(t, project.StatusDiscovered, out.Project.Status)
	require.True(t, out.Project.Dirty)
	require.Equal(t, project.ReasonNew, *out.Project.DirtyReason)
	require.Equal(t, "venv", out.Project.Environment.Kind)
	require.NotEmpty(t, out.Project.ID)
}

func TestProjectRepository_ReconcileIdempotent(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	require.Equal(t, project.ReconcileUnchanged, out.Result)
	require.False(t, out.BecameDirty)
}

func TestProjectRepository_RoundTrip(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)

	c := claimOne(t, repo)
	require.Equal(t, project.StatusEnriching, c.Project.Status)

	proj, err := repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)
	require.False(t, proj.Dirty)
	require.Equal(t, project.StatusReady, proj.Status)
	require.Equal(t, "fp1", *proj.EnrichmentFingerprint)
	require.Nil(t, proj.ClaimToken)

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	require.Equal(t, project.ReconcileUnchanged, out.Result)
	require.False(t, out.Project.Dirty)
	require.Equal(t, project.StatusReady, out.Project.Status)

	out, err = repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp2"))
	require.NoError(t, err)
	require.Equal(t, project.ReconcileUpdated, out.Result)
	require.True(t, out.BecameDirty)
	require.Equal(t, project.StatusStale, out.Project.Status)
	require.Equal(t, project.ReasonChanged, *out.Project.DirtyReason)
}

func TestProjectRepository_ChangeDuringEnrichmentStaysDirty(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp2"))
	require.NoError(t, err)
	require.Equal(t, project.StatusEnriching, out.Project.Status)

	proj, err := repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)
	require.True(t, proj.Dirty)
	require.Equal(t, project.StatusStale, proj.Status)
	require.Equal(t, "fp1", *proj.EnrichmentFingerprint)
	require.Equal(t, "fp2", proj.ContentFingerprint)
	require.Equal(t, "python app.py", *proj.LaunchCommand)
}

func TestProjectRepository_ForceDuringEnrichmentStaysDirty(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	_, err = repo.MarkDirty(ctx, c.Project.ID, project.ReasonForced)
	require.NoError(t, err)

	proj, err := repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)
	require.True(t, proj.Dirty)
	require.Equal(t, project.ReasonForced, *proj.DirtyReason)
}

func TestProjectRepository_ClaimIsExclusive(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		_, err := repo.Reconcile(ctx, reconcileInput("/srv/"+name, "fp-"+name))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claims, err := repo.Claim(ctx, project.ClaimOptions{Limit: 2})
				if err != nil || len(claims) == 0 {
					return
				}
				mu.Lock()
				for _, c := range claims {
					seen[c.Project.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 10)
	for id, n := range seen {
		require.Equal(t, 1, n, "project %s claimed more than once", id)
	}
}

func TestProjectRepository_ClaimOrderOldestFirst(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		_, err := repo.Reconcile(ctx, reconcileInput("/srv/"+name, "fp"))
		require.NoError(t, err)
	}

	dirty, err := repo.ListDirty(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dirty, 3)
	require.Equal(t, "/srv/first", dirty[0].Path)
	require.Equal(t, "/srv/third", dirty[2].Path)

	c := claimOne(t, repo)
	require.Equal(t, "/srv/first", c.Project.Path)
}

func TestProjectRepository_RemoveTombstonesAndDiscardsCommit(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	require.NoError(t, repo.Remove(ctx, c.Project.ID))
	require.ErrorIs(t, repo.Remove(ctx, c.Project.ID), repository.ErrTombstoned)

	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.ErrorIs(t, err, repository.ErrTombstoned)

	proj, err := repo.Get(ctx, c.Project.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusRemoved, proj.Status)
	require.Nil(t, proj.LaunchCommand)

	_, err = repo.GetByPath(ctx, "/srv/demo")
	require.ErrorIs(t, err, repository.ErrNotFound)

	// The path reappearing gets a fresh identity; the tombstone stays.
	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	require.Equal(t, project.ReconcileCreated, out.Result)
	require.NotEqual(t, c.Project.ID, out.Project.ID)
}

func TestProjectRepository_StaleClaimTokenRejected(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: "not-the-token", Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.ErrorIs(t, err, repository.ErrClaimLost)
}

func TestProjectRepository_FailKeepsLastKnownGood(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)
	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)

	_, err = repo.MarkDirty(ctx, c.Project.ID, project.ReasonForced)
	require.NoError(t, err)
	c = claimOne(t, repo)

	proj, err := repo.Fail(ctx, project.FailInput{ID: c.Project.ID, Token: c.Token, Error: "inference timeout"})
	require.NoError(t, err)
	require.Equal(t, project.StatusError, proj.Status)
	require.Equal(t, project.MethodUnresolved, proj.LaunchMethod)
	require.Nil(t, proj.LaunchConfidence)
	require.Equal(t, "python app.py", *proj.LaunchCommand)
	require.Equal(t, "A demo app", *proj.Description)
	require.Equal(t, project.ReasonRetry, *proj.DirtyReason)

	// Errored records wait for a sweep unless forced.
	claims, err := repo.Claim(ctx, project.ClaimOptions{Limit: 5})
	require.NoError(t, err)
	require.Empty(t, claims)

	claims, err = repo.Claim(ctx, project.ClaimOptions{Limit: 5, IncludeErrored: true})
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestProjectRepository_ClearDirtyRejectsConfidenceWithoutMethod(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	conf := 0.4

	_, err := repo.ClearDirty(context.Background(), project.ClearInput{
		ID: "x", Token: "t",
		Artifacts: project.Artifacts{LaunchMethod: project.MethodUnresolved, LaunchConfidence: &conf},
	})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestProjectRepository_ListFiltersAndFlags(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	a, err := repo.Reconcile(ctx, reconcileInput("/srv/alpha", "fp"))
	require.NoError(t, err)
	b, err := repo.Reconcile(ctx, reconcileInput("/srv/beta", "fp"))
	require.NoError(t, err)
	_, err = repo.Reconcile(ctx, reconcileInput("/srv/gamma", "fp"))
	require.NoError(t, err)

	require.NoError(t, repo.SetFavorite(ctx, b.Project.ID, true))
	require.NoError(t, repo.SetHidden(ctx, a.Project.ID, true))

	all, err := repo.List(ctx, project.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "/srv/beta", all[0].Path, "favorites sort first")

	withHidden, err := repo.List(ctx, project.ListOptions{IncludeHidden: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, withHidden, 2)

	favs, err := repo.List(ctx, project.ListOptions{FavoritesOnly: true})
	require.NoError(t, err)
	require.Len(t, favs, 1)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.Dirty)
	require.Equal(t, 1, stats.Favorites)
	require.Equal(t, 1, stats.Hidden)
	require.Equal(t, 3, stats.ByStatus[project.StatusDiscovered])
	require.NotNil(t, stats.LastScanned)

	require.ErrorIs(t, repo.SetFavorite(ctx, "missing", true), repository.ErrNotFound)
}

func TestProjectRepository_MarkAllDirtyAndPaths(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)
	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)

	n, err := repo.MarkAllDirty(ctx, project.ReasonForced)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	proj, err := repo.Get(ctx, out.Project.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusStale, proj.Status)
	require.True(t, proj.Dirty)

	paths, err := repo.ListPathsUnder(ctx, "/srv")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"/srv/demo": out.Project.ID}, paths)
}

func TestProjectRepository_SearchAndScriptState(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/imagegen", "fp1"))
	require.NoError(t, err)
	_, err = repo.Reconcile(ctx, reconcileInput("/srv/chatbot", "fp1"))
	require.NoError(t, err)

	c := claimOne(t, repo)
	desc := "Stable diffusion web interface"
	conf := 0.8
	cmd := "streamlit run app.py"
	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: project.Artifacts{Description: &desc, LaunchCommand: &cmd, LaunchConfidence: &conf, LaunchMethod: project.MethodAIPrimary},
	})
	require.NoError(t, err)

	results, err := repo.Search(ctx, "diffusion", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, c.Project.ID, results[0].Project.ID)

	results, err = repo.Search(ctx, "chat", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	hash := "abc"
	require.NoError(t, repo.SetScriptState(ctx, c.Project.ID, &hash, true))
	proj, err := repo.Get(ctx, c.Project.ID)
	require.NoError(t, err)
	require.True(t, proj.ScriptUserModified)
	require.Equal(t, "abc", *proj.ScriptHash)
}

func TestProjectRepository_PurgeTombstones(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	require.NoError(t, repo.Remove(ctx, out.Project.ID))

	n, err := repo.PurgeTombstones(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = repo.PurgeTombstones(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = repo.Get(ctx, out.Project.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProjectRepository_ReleaseClaims(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	n, err := repo.ReleaseClaims(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	proj, err := repo.Get(ctx, c.Project.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusDiscovered, proj.Status)
	require.True(t, proj.Dirty)
	require.Nil(t, proj.ClaimToken)

	// The released claim can no longer commit.
	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.ErrorIs(t, err, repository.ErrClaimLost)

	claimOne(t, repo)
}

func TestProjectRepository_ClaimErroredBefore(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)
	_, err = repo.Fail(ctx, project.FailInput{ID: c.Project.ID, Token: c.Token, Error: "timeout"})
	require.NoError(t, err)

	claims, err := repo.Claim(ctx, project.ClaimOptions{Limit: 5, IncludeErrored: true, ErroredBefore: base})
	require.NoError(t, err)
	require.Empty(t, claims)

	claims, err = repo.Claim(ctx, project.ClaimOptions{Limit: 5, IncludeErrored: true, ErroredBefore: base.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, claims, 1)
}

func TestProjectRepository_ReleaseClaim(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/fresh", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)

	require.ErrorIs(t, repo.ReleaseClaim(ctx, c.Project.ID, "someone-else"), repository.ErrClaimLost)
	require.NoError(t, repo.ReleaseClaim(ctx, c.Project.ID, c.Token))

	proj, err := repo.Get(ctx, c.Project.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusDiscovered, proj.Status)
	require.True(t, proj.Dirty)
	require.Nil(t, proj.ClaimToken)

	// A second release with the same token finds nothing to release.
	require.ErrorIs(t, repo.ReleaseClaim(ctx, c.Project.ID, c.Token), repository.ErrClaimLost)

	// Once enriched, a released claim goes back to stale.
	c = claimOne(t, repo)
	_, err = repo.ClearDirty(ctx, project.ClearInput{
		ID: c.Project.ID, Token: c.Token, Fingerprint: c.Fingerprint, Seq: c.Seq,
		Artifacts: heuristicArtifacts("python app.py"),
	})
	require.NoError(t, err)
	_, err = repo.MarkDirty(ctx, c.Project.ID, project.ReasonForced)
	require.NoError(t, err)
	c = claimOne(t, repo)
	require.NoError(t, repo.ReleaseClaim(ctx, c.Project.ID, c.Token))

	proj, err = repo.Get(ctx, c.Project.ID)
	require.NoError(t, err)
	require.Equal(t, project.StatusStale, proj.Status)
	require.True(t, proj.Dirty)
	claimOne(t, repo)
}

func TestProjectRepository_ChangeAfterFailureIsClaimable(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	_, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp1"))
	require.NoError(t, err)
	c := claimOne(t, repo)
	_, err = repo.Fail(ctx, project.FailInput{ID: c.Project.ID, Token: c.Token, Error: "timeout"})
	require.NoError(t, err)

	out, err := repo.Reconcile(ctx, reconcileInput("/srv/demo", "fp2"))
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, project.StatusError, out.Project.Status)
	require.True(t, out.Project.Dirty)
	require.Equal(t, project.ReasonChanged, *out.Project.DirtyReason)

	claims, err := repo.Claim(ctx, project.ClaimOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, project.ReasonChanged, claims[0].Reason)
	require.Equal(t, "fp2", claims[0].Fingerprint)
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, checkTransition("p", project.StatusError, project.StatusError))
	require.NoError(t, checkTransition("p", project.StatusReady, project.StatusStale))

	err := checkTransition("p", project.StatusReady, project.StatusEnriching)
	require.ErrorIs(t, err, repository.ErrConflict)
	require.ErrorIs(t, err, project.ErrInvalidTransition)

	require.ErrorIs(t, checkTransition("p", project.StatusRemoved, project.StatusDiscovered), repository.ErrConflict)
}

func TestProjectRepository_ClaimExcludesIDs(t *testing.T) {
	db := NewTestDB(t)
	repo := NewProjectRepository(db)
	ctx := context.Background()

	a, err := repo.Reconcile(ctx, reconcileInput("/srv/a", "fp-a"))
	require.NoError(t, err)
	b, err := repo.Reconcile(ctx, reconcileInput("/srv/b", "fp-b"))
	require.NoError(t, err)

	claims, err := repo.Claim(ctx, project.ClaimOptions{Limit: 5, ExcludeIDs: []string{a.Project.ID}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, b.Project.ID, claims[0].Project.ID)

	claims, err = repo.Claim(ctx, project.ClaimOptions{Limit: 5, ExcludeIDs: []string{a.Project.ID}})
	require.NoError(t, err)
	require.Empty(t, claims)
}
