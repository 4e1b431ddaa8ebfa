package application_test

import (
	"context"
	"testing"
	"time"

	"matrixfund/application"
	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"
	"matrixfund/domain/services"
	"matrixfund/domain/testhelpers"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	rootID    = entities.UserID("0xroot")
	reserveID = entities.UserID("0xreserve")
	adminID   = entities.UserID("0xadmin")
	guardID   = entities.UserID("0xguard")
	signerOne = entities.UserID("0xsigner1")
	signerTwo = entities.UserID("0xsigner2")
)

// memoryFactory hands out units of work over one in-memory store
type memoryFactory struct {
	store     *testhelpers.MemoryStore
	publisher interfaces.EventPublisher
}

func (f *memoryFactory) Create() application.UnitOfWork {
	return f.store.NewUnitOfWork(f.publisher)
}

func (f *memoryFactory) CreateReadOnly() application.UnitOfWork {
	return f.store.NewUnitOfWork(f.publisher)
}

// harness is an engine over an in-memory ledger with a controllable clock
type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *testhelpers.MemoryStore
	events *testhelpers.EventRecorder
	clock  *testhelpers.FixedClock
	plan   entities.CompensationPlan
	engine *application.Engine
}

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

func testDistributionConfig() services.DistributionConfig {
	return services.DistributionConfig{
		BatchSize:        50,
		FailureThreshold: 3,
		RetryBudget:      1,
		Cooldown:         2 * time.Hour,
		AdminReserve:     reserveID,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, testDistributionConfig())
}

func newHarnessWith(t *testing.T, distribution services.DistributionConfig) *harness {
	t.Helper()

	schedule, err := services.NewSchedule(map[entities.PoolType]string{
		entities.PoolTypeGlobalHelp:  "@every 168h",
		entities.PoolTypeLeaderBonus: "0 0 1,16 * *",
		entities.PoolTypeClub:        "0 0 1 * *",
	}, time.Hour)
	require.NoError(t, err)

	store := testhelpers.NewMemoryStore()
	recorder := testhelpers.NewEventRecorder()
	clock := testhelpers.NewFixedClock(testEpoch)
	plan := testPlan()

	engine := application.NewEngine(&memoryFactory{store: store, publisher: recorder}, clock, application.EngineConfig{
		Plan:         plan,
		Schedule:     schedule,
		Distribution: distribution,
		Governance:   services.GovernanceConfig{RequiredSignatures: 2, ProposalTTL: 24 * time.Hour},
		Root:         rootID,
		RootTier:     entities.PackageTierGold,
		Admins:       []entities.UserID{adminID},
		Emergency:    []entities.UserID{guardID},
		Signers:      []entities.UserID{signerOne, signerTwo},
	})

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		events: recorder,
		clock:  clock,
		plan:   plan,
		engine: engine,
	}
	require.NoError(t, engine.Bootstrap(h.ctx))
	return h
}

// register funds the user with the tier price and registers them
func (h *harness) register(user, sponsor entities.UserID, tier entities.PackageTier) *services.RegistrationResult {
	h.t.Helper()
	price, ok := h.plan.Price(tier)
	require.True(h.t, ok)
	h.store.Fund(user, price)

	result, err := h.engine.Register(h.ctx, sponsor, user, tier)
	require.NoError(h.t, err)
	return result
}

// seedThree registers three Starter users directly under the root
func (h *harness) seedThree() {
	h.t.Helper()
	for _, id := range []entities.UserID{"0xu1", "0xu2", "0xu3"} {
		h.register(id, rootID, entities.PackageTierStarter)
	}
}
