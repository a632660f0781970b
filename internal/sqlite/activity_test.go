package sqlite

import (
	"context"
	"testing"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/stretchr/testify/require"
)

func TestActivityRepository_LogAndList(t *testing.T) {
	db := NewTestDB(t)
	repo := NewActivityRepository(db)
	ctx := context.Background()

	token := "claim-1"
	worker := "worker-0"
	entries := []*activity.ActivityEntry{
		{ProjectID: "p1", ActivityType: activity.TypeDiscovered, Summary: "discovered"},
		{ProjectID: "p1", ClaimToken: &token, Worker: &worker, ActivityType: activity.TypeClaimed, Summary: "claimed"},
		{ProjectID: "p1", ClaimToken: &token, Worker: &worker, ActivityType: activity.TypeCommitted, Summary: "committed", Details: `{"method":"heuristic"}`},
		{ProjectID: "p2", ActivityType: activity.TypeDiscovered, Summary: "discovered"},
	}
	for _, e := range entries {
		require.NoError(t, repo.Log(ctx, e))
		require.NotZero(t, e.ID)
		require.False(t, e.CreatedAt.IsZero())
	}

	all, err := repo.List(ctx, activity.ListActivityOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "p2", all[0].ProjectID, "newest first by default")

	forP1, err := repo.List(ctx, activity.ListActivityOptions{ProjectID: "p1", Ascending: true})
	require.NoError(t, err)
	require.Len(t, forP1, 3)
	require.Equal(t, activity.TypeDiscovered, forP1[0].ActivityType)
	require.Equal(t, `{"method":"heuristic"}`, forP1[2].Details)
	require.Equal(t, "worker-0", *forP1[2].Worker)

	byClaim, err := repo.List(ctx, activity.ListActivityOptions{ClaimToken: &token})
	require.NoError(t, err)
	require.Len(t, byClaim, 2)

	byType, err := repo.List(ctx, activity.ListActivityOptions{
		ActivityTypes: []activity.ActivityType{activity.TypeDiscovered},
		Limit:         1,
		Offset:        1,
	})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "p1", byType[0].ProjectID)
}
