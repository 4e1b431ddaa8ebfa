package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"matrixfund/application"
	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"
	"matrixfund/domain/services"
	"matrixfund/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rootID    = entities.UserID("0xroot")
	guardID   = entities.UserID("0xguard")
	adminID   = entities.UserID("0xadmin")
	signerOne = entities.UserID("0xsigner1")
	signerTwo = entities.UserID("0xsigner2")
)

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

type apiFixture struct {
	t      *testing.T
	store  *testhelpers.MemoryStore
	clock  *testhelpers.FixedClock
	server *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	schedule, err := services.NewSchedule(map[entities.PoolType]string{
		entities.PoolTypeGlobalHelp: "@every 168h",
	}, time.Hour)
	require.NoError(t, err)

	plan := entities.DefaultCompensationPlan()
	plan.PackagePrices = map[entities.PackageTier]int64{
		entities.PackageTierStarter: 3000,
		entities.PackageTierBronze:  5000,
		entities.PackageTierSilver:  10000,
		entities.PackageTierGold:    20000,
	}

	store := testhelpers.NewMemoryStore()
	clock := testhelpers.NewFixedClock(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	engine := application.NewEngine(&memoryFactory{store: store, publisher: testhelpers.NewEventRecorder()}, clock, application.EngineConfig{
		Plan:     plan,
		Schedule: schedule,
		Distribution: services.DistributionConfig{
			BatchSize:        50,
			FailureThreshold: 3,
			RetryBudget:      1,
			Cooldown:         time.Hour,
			AdminReserve:     "0xreserve",
		},
		Governance: services.GovernanceConfig{RequiredSignatures: 2, ProposalTTL: 24 * time.Hour},
		Root:       rootID,
		RootTier:   entities.PackageTierGold,
		Admins:     []entities.UserID{adminID},
		Emergency:  []entities.UserID{guardID},
		Signers:    []entities.UserID{signerOne, signerTwo},
	})
	require.NoError(t, engine.Bootstrap(context.Background()))

	return &apiFixture{
		t:      t,
		store:  store,
		clock:  clock,
		server: NewServer(engine, ServerConfig{Addr: ":0"}),
	}
}

func (f *apiFixture) do(method, path string, caller entities.UserID, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, string(caller))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) register(user entities.UserID) {
	f.t.Helper()
	f.store.Fund(user, 3000)
	rec := f.do(http.MethodPost, "/v1/users", user, map[string]string{"sponsor": string(rootID), "tier": "starter"})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Health(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RegisterAndQuery(t *testing.T) {
	f := newAPIFixture(t)
	f.store.Fund("0xu1", 3000)

	rec := f.do(http.MethodPost, "/v1/users", "0xu1", map[string]string{
		"user":    "0xU1",
		"sponsor": string(rootID),
		"tier":    "starter",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeBody[services.RegistrationResult](t, rec)
	assert.Equal(t, entities.UserID("0xu1"), result.User.ID)
	assert.Equal(t, entities.PackageTierStarter, result.User.PackageTier)
	require.NotNil(t, result.Position)
	assert.Equal(t, rootID, result.Position.ParentID)

	rec = f.do(http.MethodPost, "/v1/users", "0xu1", map[string]string{"sponsor": string(rootID), "tier": "starter"})
	assert.Equal(t, http.StatusConflict, rec.Code, "already registered")

	rec = f.do(http.MethodGet, "/v1/users/0xu1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[application.UserSummary](t, rec)
	assert.Equal(t, int64(3000), summary.User.TotalInvested)
	assert.Zero(t, summary.WalletBalance)

	rec = f.do(http.MethodGet, "/v1/users/0xu1/matrix", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	node := decodeBody[entities.MatrixNode](t, rec)
	require.NotNil(t, node.ParentID)
	assert.Equal(t, rootID, *node.ParentID)

	rec = f.do(http.MethodGet, "/v1/users/"+string(rootID)+"/credits?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	credits := decodeBody[[]*entities.Credit](t, rec)
	assert.NotEmpty(t, credits)

	rec = f.do(http.MethodGet, "/v1/pools", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pools := decodeBody[[]*entities.Pool](t, rec)
	assert.Len(t, pools, len(entities.AllPoolTypes()))
}

func TestServer_RegisterOnlyForCaller(t *testing.T) {
	f := newAPIFixture(t)
	f.store.Fund("0xvictim", 3000)
	f.store.Fund("0xattacker", 3000)

	rec := f.do(http.MethodPost, "/v1/users", "0xattacker", map[string]string{
		"user":    "0xvictim",
		"sponsor": string(rootID),
		"tier":    "starter",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "governance", decodeBody[errorResponse](t, rec).Kind)
	assert.Nil(t, f.store.User("0xvictim"))
	assert.Equal(t, int64(3000), f.store.Balance("0xvictim"))
	assert.Nil(t, f.store.User("0xattacker"))

	// the victim can still register with their own funds
	rec = f.do(http.MethodPost, "/v1/users", "0xvictim", map[string]string{"sponsor": string(rootID), "tier": "starter"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Zero(t, f.store.Balance("0xvictim"))
}

func TestServer_RegisterErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		caller entities.UserID
		body   interface{}
		status int
	}{
		{"malformed body", "0xa", "not an object", http.StatusBadRequest},
		{"unknown tier", "0xa", map[string]string{"user": "0xa", "sponsor": string(rootID), "tier": "platinum"}, http.StatusBadRequest},
		{"missing caller", "", map[string]string{"user": "0xa", "sponsor": string(rootID), "tier": "starter"}, http.StatusUnauthorized},
		{"unknown sponsor", "0xa", map[string]string{"sponsor": "0xnobody", "tier": "starter"}, http.StatusBadRequest},
		{"unfunded", "0xa", map[string]string{"user": "0xa", "sponsor": string(rootID), "tier": "starter"}, http.StatusPaymentRequired},
		{"self sponsorship", rootID, map[string]string{"sponsor": string(rootID), "tier": "starter"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/users", tt.caller, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(http.MethodGet, "/v1/users/0xghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[errorResponse](t, rec).Kind)
}

func TestServer_UpgradeAndWithdrawNeedTheAccountOwner(t *testing.T) {
	f := newAPIFixture(t)
	f.register("0xu1")
	f.store.Fund("0xu1", 5000)

	rec := f.do(http.MethodPost, "/v1/users/0xu1/upgrade", "", map[string]string{"tier": "bronze"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/users/0xu1/upgrade", "0xu2", map[string]string{"tier": "bronze"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/users/0xu1/upgrade", "0xu1", map[string]string{"tier": "bronze"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, entities.PackageTierBronze, decodeBody[services.RegistrationResult](t, rec).User.PackageTier)

	rec = f.do(http.MethodPost, "/v1/users/0xu1/upgrade", "0xu1", map[string]string{"tier": "starter"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/users/0xu1/withdraw", "0xu1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "nothing earned yet")
}

func TestServer_WithdrawMatchesQuote(t *testing.T) {
	f := newAPIFixture(t)
	f.register("0xu1")

	rec := f.do(http.MethodGet, "/v1/users/"+string(rootID)+"/withdrawal-quote", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decodeBody[services.WithdrawalQuote](t, rec)
	require.Positive(t, quote.Withdrawable)

	rec = f.do(http.MethodPost, "/v1/users/"+string(rootID)+"/withdraw", rootID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[services.WithdrawalResult](t, rec)
	assert.Equal(t, quote.Net, result.Withdrawal.NetAmount)
	assert.Equal(t, quote.Net, f.store.Balance(rootID))

	rec = f.do(http.MethodGet, "/v1/users/"+string(rootID)+"/withdrawals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]*entities.Withdrawal](t, rec), 1)

	rec = f.do(http.MethodGet, "/v1/users/"+string(rootID)+"/withdrawals?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PauseAndBlacklist(t *testing.T) {
	f := newAPIFixture(t)
	f.register("0xu1")

	rec := f.do(http.MethodPut, "/v1/governance/blacklist/0xu1", "0xu1", map[string]bool{"blacklisted": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/v1/governance/blacklist/0xu1", guardID, map[string]bool{"blacklisted": true})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.True(t, f.store.User("0xu1").IsBlacklisted)

	rec = f.do(http.MethodPost, "/v1/governance/pause", "", map[string]string{"reason": "incident"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/governance/pause", guardID, map[string]string{"reason": "incident"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/governance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[entities.GovernanceState](t, rec)
	assert.True(t, state.Paused)
	assert.Equal(t, "incident", state.PauseReason)

	f.store.Fund("0xu2", 3000)
	rec = f.do(http.MethodPost, "/v1/users", "0xu2", map[string]string{"sponsor": string(rootID), "tier": "starter"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "governance", decodeBody[errorResponse](t, rec).Kind)
}

func TestServer_RoleManagement(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPut, "/v1/governance/roles/emergency/0xnew", guardID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/v1/governance/roles/wizard/0xnew", adminID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/v1/governance/roles/emergency/0xnew", adminID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/v1/governance/pause", "0xnew", map[string]string{"reason": "drill"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/governance/roles/emergency/0xnew", adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_ProposalLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/proposals", "0xoutsider", map[string]interface{}{
		"action": "set_withdrawals",
		"amount": 0,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/proposals", signerOne, map[string]interface{}{
		"action": "set_withdrawals",
		"amount": 0,
		"reason": "maintenance",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	proposal := decodeBody[entities.TreasuryProposal](t, rec)
	assert.False(t, proposal.Executed)

	rec = f.do(http.MethodGet, "/v1/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]*entities.TreasuryProposal](t, rec), 1)

	approvalPath := fmt.Sprintf("/v1/proposals/%d/approvals/%s", proposal.ID, signerTwo)
	rec = f.do(http.MethodGet, approvalPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[approvalResponse](t, rec).Approved)

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/approve", proposal.ID), signerOne, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "double approval")

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/cancel", proposal.ID), signerTwo, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/v1/proposals/%d/approve", proposal.ID), signerTwo, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[entities.TreasuryProposal](t, rec).Executed)

	rec = f.do(http.MethodGet, approvalPath, "", nil)
	assert.True(t, decodeBody[approvalResponse](t, rec).Approved)

	rec = f.do(http.MethodGet, "/v1/governance", "", nil)
	assert.False(t, decodeBody[entities.GovernanceState](t, rec).WithdrawalsEnabled)

	rec = f.do(http.MethodPost, "/v1/proposals/999/approve", signerOne, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CleanupExpiredProposals(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/proposals", signerOne, map[string]interface{}{"action": "unpause"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	f.clock.Advance(25 * time.Hour)
	rec = f.do(http.MethodPost, "/v1/proposals/cleanup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[map[string]int](t, rec)["cancelled"])
}

func TestServer_Distribution(t *testing.T) {
	f := newAPIFixture(t)
	f.register("0xu1")

	rec := f.do(http.MethodGet, "/v1/distribution/upkeep", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[services.UpkeepStatus](t, rec).Due)

	rec = f.do(http.MethodPost, "/v1/distribution/perform", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.DistributionNotDue, decodeBody[services.DistributionResult](t, rec).Status)

	f.clock.Advance(170 * time.Hour)
	rec = f.do(http.MethodGet, "/v1/distribution/upkeep", "", nil)
	assert.True(t, decodeBody[services.UpkeepStatus](t, rec).Due)

	rec = f.do(http.MethodPost, "/v1/distribution/perform", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.DistributionCompleted, decodeBody[services.DistributionResult](t, rec).Status)

	rec = f.do(http.MethodGet, "/v1/distribution/automation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]*entities.AutomationState](t, rec))

	rec = f.do(http.MethodPost, "/v1/distribution/global_help/reset", guardID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/distribution/global_help/reset", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "breaker is closed")
}

func TestServer_AutomationFailureIsUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.register("0xu1")
	f.clock.Advance(170 * time.Hour)
	f.store.FailOn("runs.SnapshotRecipients", errors.New("snapshot failed"))

	rec := f.do(http.MethodPost, "/v1/distribution/perform", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, "automation", decodeBody[errorResponse](t, rec).Kind)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrInvalidTier, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", services.ErrSelfSponsorship), http.StatusBadRequest},
		{services.ErrUserNotFound, http.StatusNotFound},
		{services.ErrProposalNotFound, http.StatusNotFound},
		{services.ErrInsufficientFunds, http.StatusPaymentRequired},
		{services.ErrTransferFailed, http.StatusBadGateway},
		{services.ErrUnauthorized, http.StatusForbidden},
		{services.ErrNotSigner, http.StatusForbidden},
		{services.ErrBlacklisted, http.StatusForbidden},
		{services.ErrPaused, http.StatusConflict},
		{services.ErrProposalExpired, http.StatusConflict},
		{services.ErrNothingToWithdraw, http.StatusConflict},
		{services.ErrAutomationFailure, http.StatusServiceUnavailable},
		{fmt.Errorf("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestServer_InternalErrorsAreMasked(t *testing.T) {
	f := newAPIFixture(t)
	f.store.FailOn("automation.GetAll", errors.New("connection reset"))

	rec := f.do(http.MethodGet, "/v1/distribution/automation", "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody[errorResponse](t, rec).Error)
}
