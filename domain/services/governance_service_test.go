package services_test

import (
	"testing"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID     = entities.UserID("0xadmin")
	guardianID  = entities.UserID("0xguardian")
	signerOne   = entities.UserID("0xsigner1")
	signerTwo   = entities.UserID("0xsigner2")
	signerThree = entities.UserID("0xsigner3")
)

// governance wires a 2-of-3 governance service over the ledger's store
func (l *ledger) governance() *services.GovernanceService {
	l.t.Helper()
	grants := []struct {
		user entities.UserID
		role entities.Role
	}{
		{adminID, entities.RoleAdmin},
		{guardianID, entities.RoleEmergency},
		{signerOne, entities.RoleSigner},
		{signerTwo, entities.RoleSigner},
		{signerThree, entities.RoleSigner},
	}
	for _, grant := range grants {
		require.NoError(l.t, l.store.Governance().GrantRole(l.ctx, &entities.RoleAssignment{
			UserID:    grant.user,
			Role:      grant.role,
			GrantedAt: testEpoch,
		}))
	}
	return services.NewGovernanceService(
		l.store.Governance(), l.store.Proposals(), l.store.Users(), l.store.Pools(),
		l.store.Vault(), l.events,
		services.GovernanceConfig{RequiredSignatures: 2, ProposalTTL: 24 * time.Hour},
	)
}

func TestGovernanceService_PauseAndUnpauseByProposal(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()

	err := gov.Pause(l.ctx, signerOne, "incident", l.now)
	assert.ErrorIs(t, err, services.ErrUnauthorized)
	assert.False(t, l.store.GovernanceState().Paused)

	require.NoError(t, gov.Pause(l.ctx, guardianID, "incident", l.now))
	// pausing twice is harmless
	require.NoError(t, gov.Pause(l.ctx, guardianID, "again", l.now))

	state := l.store.GovernanceState()
	assert.True(t, state.Paused)
	assert.Equal(t, "incident", state.PauseReason)
	require.NotNil(t, state.PausedBy)
	assert.Equal(t, guardianID, *state.PausedBy)

	for _, op := range []services.Operation{
		services.OperationRegister, services.OperationUpgrade,
		services.OperationWithdraw, services.OperationDistribute,
	} {
		assert.ErrorIs(t, gov.CheckOperation(l.ctx, op, "0xanyone"), services.ErrPaused, op)
	}

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{
		Proposer: signerOne,
		Action:   entities.ProposalActionUnpause,
		Reason:   "resolved",
	}, l.now)
	require.NoError(t, err)
	assert.False(t, proposal.Executed)
	assert.True(t, l.store.GovernanceState().Paused)

	executed, err := gov.Approve(l.ctx, proposal.ID, signerTwo, l.now)
	require.NoError(t, err)
	assert.True(t, executed.Executed)
	assert.False(t, l.store.GovernanceState().Paused)
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationRegister, "0xanyone"))

	paused := l.events.OfType(events.EventTypeSystemPaused)
	require.Len(t, paused, 2)
	assert.False(t, paused[1].(events.SystemPausedEvent).Paused)
}

func TestGovernanceService_UnpauseWhenRunningFails(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{Proposer: signerOne, Action: entities.ProposalActionUnpause}, l.now)
	require.NoError(t, err)

	_, err = gov.Approve(l.ctx, proposal.ID, signerTwo, l.now)
	assert.ErrorIs(t, err, services.ErrNotPaused)
}

func TestGovernanceService_BlacklistGate(t *testing.T) {
	l := newLedger(t, testPlan())
	l.register("0xa", rootID, entities.PackageTierStarter)
	gov := l.governance()

	err := gov.SetBlacklisted(l.ctx, adminID, "0xa", true)
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	err = gov.SetBlacklisted(l.ctx, guardianID, "0xghost", true)
	assert.ErrorIs(t, err, services.ErrUserNotFound)

	require.NoError(t, gov.SetBlacklisted(l.ctx, guardianID, "0xa", true))
	assert.True(t, l.store.User("0xa").IsBlacklisted)
	assert.ErrorIs(t, gov.CheckOperation(l.ctx, services.OperationWithdraw, "0xa"), services.ErrBlacklisted)
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationWithdraw, rootID))

	require.NoError(t, gov.SetBlacklisted(l.ctx, guardianID, "0xa", false))
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationWithdraw, "0xa"))
	assert.Len(t, l.events.OfType(events.EventTypeUserBlacklisted), 2)
}

func TestGovernanceService_PoolWithdrawalNeedsTwoSignatures(t *testing.T) {
	l := newLedger(t, testPlan())
	l.seedThree()
	gov := l.governance()
	recipient := entities.UserID("0xops")

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{
		Proposer:  signerOne,
		Action:    entities.ProposalActionPoolWithdrawal,
		Token:     string(entities.PoolTypeGlobalHelp),
		Recipient: &recipient,
		Amount:    1000,
		Reason:    "operations",
	}, l.now)
	require.NoError(t, err)
	assert.Equal(t, 1, proposal.ApprovalCount())
	assert.Equal(t, l.now.Add(24*time.Hour), proposal.ExpiresAt)

	approved, err := gov.HasApproved(l.ctx, proposal.ID, signerOne)
	require.NoError(t, err)
	assert.True(t, approved)

	_, err = gov.Approve(l.ctx, proposal.ID, signerOne, l.now)
	assert.ErrorIs(t, err, services.ErrAlreadyApproved)

	_, err = gov.Approve(l.ctx, proposal.ID, adminID, l.now)
	assert.ErrorIs(t, err, services.ErrNotSigner)
	assert.Zero(t, l.store.Balance(recipient))

	executed, err := gov.Approve(l.ctx, proposal.ID, signerTwo, l.now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, executed.Executed)
	require.NotNil(t, executed.ExecutedAt)

	assert.Equal(t, int64(1000), l.store.Balance(recipient))
	assert.Equal(t, int64(1700), l.store.Pool(entities.PoolTypeGlobalHelp).Balance)

	_, err = gov.Approve(l.ctx, proposal.ID, signerThree, l.now.Add(time.Hour))
	assert.ErrorIs(t, err, services.ErrProposalExecuted)

	_, err = gov.Cancel(l.ctx, proposal.ID, signerOne, l.now.Add(time.Hour))
	assert.ErrorIs(t, err, services.ErrProposalExecuted)

	assert.Len(t, l.events.OfType(events.EventTypeProposalExecuted), 1)
}

func TestGovernanceService_OverdrawnPoolWithdrawalFails(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()
	recipient := entities.UserID("0xops")

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{
		Proposer:  signerOne,
		Action:    entities.ProposalActionPoolWithdrawal,
		Token:     string(entities.PoolTypeClub),
		Recipient: &recipient,
		Amount:    1,
	}, l.now)
	require.NoError(t, err)

	_, err = gov.Approve(l.ctx, proposal.ID, signerTwo, l.now)
	assert.ErrorIs(t, err, services.ErrInsufficientFunds)
}

func TestGovernanceService_SwitchesAndFee(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()

	run := func(action entities.ProposalAction, amount int64) {
		t.Helper()
		proposal, err := gov.Propose(l.ctx, services.ProposeParams{Proposer: signerOne, Action: action, Amount: amount}, l.now)
		require.NoError(t, err)
		_, err = gov.Approve(l.ctx, proposal.ID, signerThree, l.now)
		require.NoError(t, err)
	}

	run(entities.ProposalActionSetWithdrawals, 0)
	assert.ErrorIs(t, gov.CheckOperation(l.ctx, services.OperationWithdraw, "0xa"), services.ErrWithdrawalsDisabled)
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationRegister, "0xa"))

	run(entities.ProposalActionSetRegistrations, 0)
	assert.ErrorIs(t, gov.CheckOperation(l.ctx, services.OperationRegister, "0xa"), services.ErrRegistrationsDisabled)
	// distribution is never switched off by the toggles
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationDistribute, ""))

	run(entities.ProposalActionSetWithdrawals, 1)
	assert.NoError(t, gov.CheckOperation(l.ctx, services.OperationWithdraw, "0xa"))

	run(entities.ProposalActionSetAdminFee, 250)
	state := l.store.GovernanceState()
	require.NotNil(t, state.AdminFeeBps)
	assert.Equal(t, int64(250), *state.AdminFeeBps)
	assert.Equal(t, int64(250), state.EffectiveAdminFeeBps(l.plan.AdminFeeBps))
}

func TestGovernanceService_InvalidProposals(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()
	recipient := entities.UserID("0xops")

	tests := []struct {
		name   string
		params services.ProposeParams
	}{
		{"unknown action", services.ProposeParams{Action: "mint"}},
		{"unknown pool", services.ProposeParams{Action: entities.ProposalActionPoolWithdrawal, Token: "usdt", Recipient: &recipient, Amount: 1}},
		{"missing recipient", services.ProposeParams{Action: entities.ProposalActionPoolWithdrawal, Token: string(entities.PoolTypeClub), Amount: 1}},
		{"zero amount", services.ProposeParams{Action: entities.ProposalActionPoolWithdrawal, Token: string(entities.PoolTypeClub), Recipient: &recipient}},
		{"fee above 100%", services.ProposeParams{Action: entities.ProposalActionSetAdminFee, Amount: 10001}},
		{"toggle not boolean", services.ProposeParams{Action: entities.ProposalActionSetWithdrawals, Amount: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params.Proposer = signerOne
			_, err := gov.Propose(l.ctx, tt.params, l.now)
			assert.ErrorIs(t, err, services.ErrInvalidProposal)
		})
	}

	_, err := gov.Propose(l.ctx, services.ProposeParams{Proposer: adminID, Action: entities.ProposalActionUnpause}, l.now)
	assert.ErrorIs(t, err, services.ErrNotSigner)

	active, err := gov.ListActive(l.ctx, l.now)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGovernanceService_ExpiryAndCleanup(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{Proposer: signerOne, Action: entities.ProposalActionSetAdminFee, Amount: 100}, l.now)
	require.NoError(t, err)

	active, err := gov.ListActive(l.ctx, l.now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, proposal.ID, active[0].ID)

	late := l.now.Add(25 * time.Hour)
	_, err = gov.Approve(l.ctx, proposal.ID, signerTwo, late)
	assert.ErrorIs(t, err, services.ErrProposalExpired)
	assert.Nil(t, l.store.GovernanceState().AdminFeeBps)

	count, err := gov.CleanupExpired(l.ctx, late)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = gov.CleanupExpired(l.ctx, late)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = gov.Approve(l.ctx, proposal.ID, signerTwo, late)
	assert.ErrorIs(t, err, services.ErrProposalCancelled)

	cancelled := l.events.OfType(events.EventTypeProposalCancelled)
	require.Len(t, cancelled, 1)
	assert.True(t, cancelled[0].(events.ProposalCancelledEvent).Expired)
}

func TestGovernanceService_Cancel(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()

	proposal, err := gov.Propose(l.ctx, services.ProposeParams{Proposer: signerOne, Action: entities.ProposalActionSetWithdrawals, Amount: 0}, l.now)
	require.NoError(t, err)

	_, err = gov.Cancel(l.ctx, proposal.ID, signerTwo, l.now)
	assert.ErrorIs(t, err, services.ErrNotProposer)

	_, err = gov.Cancel(l.ctx, 999, signerOne, l.now)
	assert.ErrorIs(t, err, services.ErrProposalNotFound)

	cancelled, err := gov.Cancel(l.ctx, proposal.ID, signerOne, l.now)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	_, err = gov.Cancel(l.ctx, proposal.ID, signerOne, l.now)
	assert.ErrorIs(t, err, services.ErrProposalCancelled)

	_, err = gov.Approve(l.ctx, proposal.ID, signerTwo, l.now)
	assert.ErrorIs(t, err, services.ErrProposalCancelled)
	assert.True(t, l.store.GovernanceState().WithdrawalsEnabled)
}

func TestGovernanceService_Roles(t *testing.T) {
	l := newLedger(t, testPlan())
	gov := l.governance()
	newSigner := entities.UserID("0xsigner4")

	err := gov.GrantRole(l.ctx, signerOne, newSigner, entities.RoleSigner, l.now)
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	err = gov.GrantRole(l.ctx, adminID, newSigner, entities.Role("owner"), l.now)
	assert.ErrorIs(t, err, services.ErrInvalidRole)

	require.NoError(t, gov.GrantRole(l.ctx, adminID, newSigner, entities.RoleSigner, l.now))
	assert.NoError(t, gov.Authorize(l.ctx, newSigner, services.CapabilityApprove))

	require.NoError(t, gov.RevokeRole(l.ctx, adminID, newSigner, entities.RoleSigner))
	assert.ErrorIs(t, gov.Authorize(l.ctx, newSigner, services.CapabilityApprove), services.ErrNotSigner)

	assert.ErrorIs(t, gov.Authorize(l.ctx, adminID, services.Capability("self_destruct")), services.ErrUnauthorized)
	assert.NoError(t, gov.Authorize(l.ctx, adminID, services.CapabilityResetBreaker))
	assert.ErrorIs(t, gov.Authorize(l.ctx, guardianID, services.CapabilityResetBreaker), services.ErrUnauthorized)
	assert.True(t, services.IsGovernanceError(gov.Authorize(l.ctx, guardianID, services.CapabilityResetBreaker)))
}
