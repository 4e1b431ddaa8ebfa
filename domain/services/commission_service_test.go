package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creditsOn(result *services.CommissionResult, channel entities.CreditChannel) []*entities.Credit {
	var matched []*entities.Credit
	for _, credit := range result.Credits {
		if credit.Channel == channel {
			matched = append(matched, credit)
		}
	}
	return matched
}

func assertConserved(t *testing.T, result *services.CommissionResult) {
	t.Helper()
	assert.Equal(t, result.Amount, result.Credited+result.ForfeitedMissing+result.ForfeitedCap+result.Pooled,
		"purchase %d leaked value", result.PurchaseID)
	assert.Equal(t, result.Amount, result.Allocation.Total())
}

func TestCommissionService_ShortChainForfeitsMissingLevels(t *testing.T) {
	l := newLedger(t, testPlan())

	uplines := l.chain(rootID, 4, "u")
	buyer := l.register("0xbuyer", uplines[3], entities.PackageTierStarter)
	result := buyer.Commission

	assert.Equal(t, int64(3000), result.Amount)
	assert.Equal(t, entities.ChannelAllocation{
		Direct:     1200,
		Level:      300,
		Upline:     300,
		Leader:     300,
		GlobalHelp: 900,
	}, result.Allocation)

	// direct 1200 + levels 1-5 (90+30+30+30+30) + 5 uplines of 10
	assert.Equal(t, int64(1460), result.Credited)
	// level 6-10 shares (30 + 4*15) + 25 missing upline shares of 10
	assert.Equal(t, int64(340), result.ForfeitedMissing)
	assert.Zero(t, result.ForfeitedCap)
	assert.Equal(t, int64(1200), result.Pooled)
	assertConserved(t, result)

	direct := creditsOn(result, entities.CreditChannelDirect)
	require.Len(t, direct, 1)
	assert.Equal(t, uplines[3], direct[0].RecipientID)
	assert.Equal(t, int64(1200), direct[0].CreditedAmount)

	levels := creditsOn(result, entities.CreditChannelLevel)
	require.Len(t, levels, 5)
	expectedLevels := []struct {
		recipient entities.UserID
		amount    int64
	}{
		{uplines[3], 90},
		{uplines[2], 30},
		{uplines[1], 30},
		{uplines[0], 30},
		{rootID, 30},
	}
	for i, expected := range expectedLevels {
		assert.Equal(t, expected.recipient, levels[i].RecipientID, "level %d", i+1)
		assert.Equal(t, expected.amount, levels[i].CreditedAmount, "level %d", i+1)
		assert.Equal(t, i+1, levels[i].Level)
	}

	upline := creditsOn(result, entities.CreditChannelUpline)
	require.Len(t, upline, 5)
	for i, credit := range upline {
		assert.Equal(t, int64(10), credit.CreditedAmount)
		assert.Equal(t, i+1, credit.Level)
		assert.Equal(t, entities.ReferenceTypePurchase, credit.ReferenceType)
	}
	assert.Equal(t, rootID, upline[4].RecipientID)
}

func TestCommissionService_PoolsReceiveTheirShares(t *testing.T) {
	l := newLedger(t, testPlan())

	l.register("0xa", rootID, entities.PackageTierStarter)
	l.register("0xb", rootID, entities.PackageTierGold)

	// 30% and 10% of 3000 + 20000
	assert.Equal(t, int64(6900), l.store.Pool(entities.PoolTypeGlobalHelp).Balance)
	assert.Equal(t, int64(2300), l.store.Pool(entities.PoolTypeLeaderBonus).Balance)
	assert.Zero(t, l.store.Pool(entities.PoolTypeClub).Balance)
	assert.Equal(t, int64(6900), l.store.Pool(entities.PoolTypeGlobalHelp).TotalReceived)
}

func TestCommissionService_ConservesEveryPurchase(t *testing.T) {
	l := newLedger(t, testPlan())
	tiers := entities.AllPackageTiers()

	ids := []entities.UserID{rootID}
	var results []*services.CommissionResult
	for i := 0; i < 40; i++ {
		id := entities.UserID(fmt.Sprintf("0xm%02d", i))
		sponsor := ids[i/3]
		registered := l.register(id, sponsor, tiers[i%len(tiers)])
		results = append(results, registered.Commission)
		ids = append(ids, id)
	}

	var pooled, credited int64
	for _, result := range results {
		assertConserved(t, result)
		pooled += result.Pooled
		credited += result.Credited
	}

	var pools int64
	for _, pool := range entities.AllPoolTypes() {
		pools += l.store.Pool(pool).Balance
	}
	assert.Equal(t, pooled, pools)

	var earned, ledgerTotal int64
	for _, user := range l.store.AllUsers() {
		earned += user.TotalEarnings
	}
	for _, credit := range l.store.AllCredits() {
		ledgerTotal += credit.CreditedAmount
	}
	assert.Equal(t, credited, earned)
	assert.Equal(t, credited, ledgerTotal)
	l.assertCapInvariant()
}

func TestCommissionService_CapTruncatesCredits(t *testing.T) {
	l := newLedger(t, testPlan())
	l.register("0xa", rootID, entities.PackageTierStarter)

	var last *services.RegistrationResult
	for i := 0; i < 12; i++ {
		last = l.register(entities.UserID(fmt.Sprintf("0xr%02d", i)), "0xa", entities.PackageTierStarter)
	}

	a := l.store.User("0xa")
	require.NotNil(t, a)
	assert.True(t, a.IsCapped)
	assert.Equal(t, int64(12000), a.TotalEarnings)
	assert.Equal(t, int64(12000), a.WithdrawableAmount)

	// the direct bonus of a purchase after the cap is forfeited in full
	direct := creditsOn(last.Commission, entities.CreditChannelDirect)
	require.Len(t, direct, 1)
	assert.Equal(t, entities.UserID("0xa"), direct[0].RecipientID)
	assert.Zero(t, direct[0].CreditedAmount)
	assert.Equal(t, int64(1200), direct[0].ForfeitedAmount())
	assert.GreaterOrEqual(t, last.Commission.ForfeitedCap, int64(1200))
	assertConserved(t, last.Commission)

	var truncated int
	for _, credit := range l.store.AllCredits() {
		if credit.RecipientID == "0xa" && credit.CreditedAmount > 0 && credit.CreditedAmount < credit.ProposedAmount {
			truncated++
		}
	}
	assert.LessOrEqual(t, truncated, 1)
	l.assertCapInvariant()
}

func TestCommissionService_BlacklistedRecipientForfeits(t *testing.T) {
	l := newLedger(t, testPlan())
	l.register("0xa", rootID, entities.PackageTierStarter)
	l.register("0xb", "0xa", entities.PackageTierStarter)

	a := l.store.User("0xa")
	a.IsBlacklisted = true
	require.NoError(t, l.store.Users().Update(l.ctx, a))
	earnedBefore := a.TotalEarnings

	l.store.Fund("0xb", 5000)
	result, err := l.registration.UpgradePackage(l.ctx, "0xb", entities.PackageTierBronze, l.now)
	require.NoError(t, err)

	assert.Equal(t, earnedBefore, l.store.User("0xa").TotalEarnings)
	direct := creditsOn(result.Commission, entities.CreditChannelDirect)
	require.Len(t, direct, 1)
	assert.Equal(t, entities.UserID("0xa"), direct[0].RecipientID)
	assert.Zero(t, direct[0].CreditedAmount)
	// direct 2000, level one 150 and one upline share of 16 all belonged to 0xa
	assert.Equal(t, int64(2166), result.Commission.ForfeitedCap)
	assertConserved(t, result.Commission)

	// a blacklisted sponsor cannot take new registrations
	l.store.Fund("0xc", 3000)
	_, err = l.registration.Register(l.ctx, services.RegisterParams{UserID: "0xc", SponsorID: "0xa", Tier: entities.PackageTierStarter}, l.now)
	assert.ErrorIs(t, err, services.ErrSponsorNotFound)
}

func TestCommissionService_RejectsNonPositiveAmount(t *testing.T) {
	l := newLedger(t, testPlan())

	_, err := l.commission.OnPackagePurchase(l.ctx, &entities.Purchase{BuyerID: rootID, Amount: 0})
	assert.ErrorIs(t, err, services.ErrInvalidAmount)
	assert.True(t, services.IsValidationError(err))
}

func TestCommissionService_UnknownBuyer(t *testing.T) {
	l := newLedger(t, testPlan())

	_, err := l.commission.OnPackagePurchase(l.ctx, &entities.Purchase{BuyerID: "0xghost", Amount: 3000})
	assert.ErrorIs(t, err, services.ErrUserNotFound)
}

func TestCommissionService_DepositFailureRollsBack(t *testing.T) {
	l := newLedger(t, testPlan())
	l.register("0xa", rootID, entities.PackageTierStarter)

	boom := errors.New("pool unavailable")
	l.store.FailOn("pools.Deposit", boom)

	uow := l.store.NewUnitOfWork(l.events)
	require.NoError(t, uow.Begin(context.Background()))
	l.store.Fund("0xb", 3000)
	_, err := l.registration.Register(l.ctx, services.RegisterParams{UserID: "0xb", SponsorID: "0xa", Tier: entities.PackageTierStarter}, l.now)
	require.ErrorIs(t, err, boom)
	require.NoError(t, uow.Rollback())
	l.store.ClearFailures()

	assert.Nil(t, l.store.User("0xb"))
	assert.Nil(t, l.store.Node("0xb"))
	a := l.store.User("0xa")
	assert.Zero(t, a.DirectReferralsCount)
	assert.Zero(t, a.TeamSize)
	assert.Zero(t, l.store.Balance("0xb"))
	assert.Equal(t, int64(3000), l.store.Balance(entities.VaultHolder))
	assert.Equal(t, 2, l.store.NodeCount())
}
