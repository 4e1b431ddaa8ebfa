package repository

import (
	"context"
	"testing"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionRunRepository_Lifecycle(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	users := NewUserRepository(testDB.DB)
	repo := NewDistributionRunRepository(testDB.DB)
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, testutil.CreateTestUserWithInvestment("0xroot", "", entities.PackageTierGold, 4000)))
	require.NoError(t, users.Create(ctx, testutil.CreateTestUserWithInvestment("0xa", "0xroot", entities.PackageTierStarter, 1000)))
	capped := testutil.CreateTestUserWithInvestment("0xb", "0xroot", entities.PackageTierBronze, 2000)
	capped.IsCapped = true
	require.NoError(t, users.Create(ctx, capped))
	idle := testutil.CreateTestUser("0xc", "0xroot")
	idle.LastActivityAt = testutil.FixedTime.AddDate(0, -2, 0)
	require.NoError(t, users.Create(ctx, idle))
	blocked := testutil.CreateTestUser("0xd", "0xroot")
	blocked.IsBlacklisted = true
	require.NoError(t, users.Create(ctx, blocked))

	run := testutil.CreateTestRun("run-1", entities.PoolTypeGlobalHelp, 900)
	require.NoError(t, repo.Create(ctx, run))

	t.Run("only one run in flight", func(t *testing.T) {
		err := repo.Create(ctx, testutil.CreateTestRun("run-2", entities.PoolTypeClub, 10))
		assert.Error(t, err)

		inFlight, err := repo.GetInProgress(ctx)
		require.NoError(t, err)
		require.NotNil(t, inFlight)
		assert.Equal(t, "run-1", inFlight.ID)
	})

	activeSince := testutil.FixedTime.Add(-24 * time.Hour)
	groups, err := repo.SnapshotRecipients(ctx, run.ID, entities.RecipientCriteria{
		ActiveSince:   &activeSince,
		ExcludeCapped: true,
		Weighting:     entities.WeightByInvestment,
	})
	require.NoError(t, err)
	require.Contains(t, groups, entities.RecipientGroupAll)
	assert.Equal(t, int64(5000), groups[entities.RecipientGroupAll].TotalWeight)
	assert.Equal(t, 2, groups[entities.RecipientGroupAll].Recipients)

	allotment := groups[entities.RecipientGroupAll]
	allotment.Amount = 900
	run.Allotments = map[string]entities.RunAllotment{entities.RecipientGroupAll: allotment}
	run.RecipientCount = allotment.Recipients
	require.NoError(t, repo.Update(ctx, run))

	batch, err := repo.NextUnpaid(ctx, run.ID, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, entities.UserID("0xroot"), batch[0].UserID)
	assert.Equal(t, int64(4000), batch[0].Weight)

	require.NoError(t, repo.MarkPaid(ctx, run.ID, "0xroot", 720))
	assert.Error(t, repo.MarkPaid(ctx, run.ID, "0xroot", 720), "a recipient is paid once")

	batch, err = repo.NextUnpaid(ctx, run.ID, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, entities.UserID("0xa"), batch[0].UserID)

	run.DistributedAmount = 720
	run.PaidCount = 1
	run.Complete(testutil.FixedTime)
	require.NoError(t, repo.Update(ctx, run))

	inFlight, err := repo.GetInProgress(ctx)
	require.NoError(t, err)
	assert.Nil(t, inFlight)

	latest, err := repo.GetLatest(ctx, entities.PoolTypeGlobalHelp)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.IsCompleted())
	assert.Equal(t, int64(900), latest.Allotments[entities.RecipientGroupAll].Amount)
	assert.Equal(t, int64(720), latest.DistributedAmount)
}

func TestDistributionRunRepository_SnapshotByRank(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	users := NewUserRepository(testDB.DB)
	repo := NewDistributionRunRepository(testDB.DB)
	ctx := context.Background()

	root := testutil.CreateTestUser("0xroot", "")
	root.LeaderRank = entities.LeaderRankSilverStar
	require.NoError(t, users.Create(ctx, root))
	for _, id := range []entities.UserID{"0xa", "0xb"} {
		u := testutil.CreateTestUser(id, "0xroot")
		u.LeaderRank = entities.LeaderRankShiningStar
		require.NoError(t, users.Create(ctx, u))
	}
	require.NoError(t, users.Create(ctx, testutil.CreateTestUser("0xc", "0xroot")))

	run := testutil.CreateTestRun("leader-1", entities.PoolTypeLeaderBonus, 100)
	require.NoError(t, repo.Create(ctx, run))

	groups, err := repo.SnapshotRecipients(ctx, run.ID, entities.RecipientCriteria{
		Ranks:       []entities.LeaderRank{entities.LeaderRankShiningStar, entities.LeaderRankSilverStar},
		Weighting:   entities.WeightEqual,
		GroupByRank: true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]entities.RunAllotment{
		"shining_star": {TotalWeight: 2, Recipients: 2},
		"silver_star":  {TotalWeight: 1, Recipients: 1},
	}, groups)
}
