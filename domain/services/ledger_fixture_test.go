package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"
	"matrixfund/domain/testhelpers"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	rootID    = entities.UserID("0xroot")
	reserveID = entities.UserID("0xreserve")
)

// testPlan is the default plan with small round prices
func testPlan() entities.CompensationPlan {
	plan := entities.DefaultCompensationPlan()
	plan.PackagePrices = map[entities.PackageTier]int64{
		entities.PackageTierStarter: 3000,
		entities.PackageTierBronze:  5000,
		entities.PackageTierSilver:  10000,
		entities.PackageTierGold:    20000,
	}
	return plan
}

// ledger wires every service against one in-memory store
type ledger struct {
	t            *testing.T
	ctx          context.Context
	store        *testhelpers.MemoryStore
	events       *testhelpers.EventRecorder
	plan         entities.CompensationPlan
	now          time.Time
	placement    *services.PlacementService
	commission   *services.CommissionService
	registration *services.RegistrationService
	withdrawal   *services.WithdrawalService
}

func newLedger(t *testing.T, plan entities.CompensationPlan) *ledger {
	t.Helper()
	require.NoError(t, plan.Validate())

	store := testhelpers.NewMemoryStore()
	recorder := testhelpers.NewEventRecorder()
	placement := services.NewPlacementService(store.Users(), store.Matrix(), plan)
	commission := services.NewCommissionService(store.Users(), store.Matrix(), store.Pools(), store.Credits(), recorder, plan)
	registration := services.NewRegistrationService(
		store.Users(), store.Matrix(), store.Purchases(), store.Vault(),
		placement, commission, recorder, plan,
	)
	withdrawal := services.NewWithdrawalService(
		store.Users(), store.Withdrawals(), store.Governance(), store.Vault(),
		commission, recorder, plan, reserveID,
	)

	l := &ledger{
		t:            t,
		ctx:          context.Background(),
		store:        store,
		events:       recorder,
		plan:         plan,
		now:          testEpoch,
		placement:    placement,
		commission:   commission,
		registration: registration,
		withdrawal:   withdrawal,
	}
	_, err := registration.RegisterRoot(l.ctx, rootID, entities.PackageTierGold, testEpoch)
	require.NoError(t, err)
	return l
}

// register funds the user with the tier price and registers them
func (l *ledger) register(user, sponsor entities.UserID, tier entities.PackageTier) *services.RegistrationResult {
	l.t.Helper()
	price, ok := l.plan.Price(tier)
	require.True(l.t, ok)
	l.store.Fund(user, price)

	result, err := l.registration.Register(l.ctx, services.RegisterParams{
		UserID:    user,
		SponsorID: sponsor,
		Tier:      tier,
	}, l.now)
	require.NoError(l.t, err)
	return result
}

// chain registers n users, each sponsored by the previous one, starting under sponsor
func (l *ledger) chain(sponsor entities.UserID, n int, prefix string) []entities.UserID {
	l.t.Helper()
	ids := make([]entities.UserID, 0, n)
	for i := 1; i <= n; i++ {
		id := entities.UserID(fmt.Sprintf("0x%s%d", prefix, i))
		l.register(id, sponsor, entities.PackageTierStarter)
		ids = append(ids, id)
		sponsor = id
	}
	return ids
}

// setBalance overwrites a user's earnings and withdrawable balance
func (l *ledger) setBalance(id entities.UserID, earnings, withdrawable int64) {
	l.t.Helper()
	user, err := l.store.Users().GetByID(l.ctx, id)
	require.NoError(l.t, err)
	require.NotNil(l.t, user)
	user.TotalEarnings = earnings
	user.WithdrawableAmount = withdrawable
	require.NoError(l.t, l.store.Users().Update(l.ctx, user))
}

// assertCapInvariant checks that no user ever earned more than the cap allows
func (l *ledger) assertCapInvariant() {
	l.t.Helper()
	for _, user := range l.store.AllUsers() {
		require.LessOrEqual(l.t, user.TotalEarnings, user.EarningsCeiling(l.plan.EarningsCapMultiplier), "user %s", user.ID)
		require.Equal(l.t, user.TotalEarnings >= user.EarningsCeiling(l.plan.EarningsCapMultiplier), user.IsCapped, "user %s", user.ID)
	}
}
