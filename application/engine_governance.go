package application

import (
	"context"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"
)

// ProposeTreasuryAction opens a treasury proposal carrying the proposer's approval
func (e *Engine) ProposeTreasuryAction(ctx context.Context, params services.ProposeParams) (*entities.TreasuryProposal, error) {
	now := e.clock.Now()
	var proposal *entities.TreasuryProposal
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		proposal, err = svc.governance.Propose(ctx, params, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// ApproveTreasuryAction adds a signer's approval; the deciding approval executes the action
func (e *Engine) ApproveTreasuryAction(ctx context.Context, id int64, signer entities.UserID) (*entities.TreasuryProposal, error) {
	now := e.clock.Now()
	var proposal *entities.TreasuryProposal
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		proposal, err = svc.governance.Approve(ctx, id, signer, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// CancelTreasuryAction withdraws an open proposal; proposer only
func (e *Engine) CancelTreasuryAction(ctx context.Context, id int64, proposer entities.UserID) (*entities.TreasuryProposal, error) {
	now := e.clock.Now()
	var proposal *entities.TreasuryProposal
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		proposal, err = svc.governance.Cancel(ctx, id, proposer, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// CleanupExpiredProposals cancels open proposals past their expiry
func (e *Engine) CleanupExpiredProposals(ctx context.Context) (int, error) {
	now := e.clock.Now()
	var cleaned int
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		cleaned, err = svc.governance.CleanupExpired(ctx, now)
		return err
	})
	return cleaned, err
}

// EmergencyPause halts every state-mutating entry point
func (e *Engine) EmergencyPause(ctx context.Context, actor entities.UserID, reason string) error {
	now := e.clock.Now()
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		return svc.governance.Pause(ctx, actor, reason, now)
	})
}

// SetBlacklisted blocks or unblocks an address
func (e *Engine) SetBlacklisted(ctx context.Context, actor, target entities.UserID, blacklisted bool) error {
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		return svc.governance.SetBlacklisted(ctx, actor, target, blacklisted)
	})
}

// GrantRole gives target a role; admin only
func (e *Engine) GrantRole(ctx context.Context, actor, target entities.UserID, role entities.Role) error {
	now := e.clock.Now()
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		return svc.governance.GrantRole(ctx, actor, target, role, now)
	})
}

// RevokeRole takes a role away from target; admin only
func (e *Engine) RevokeRole(ctx context.Context, actor, target entities.UserID, role entities.Role) error {
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		return svc.governance.RevokeRole(ctx, actor, target, role)
	})
}

// ListActiveProposals returns proposals that can still be approved
func (e *Engine) ListActiveProposals(ctx context.Context) ([]*entities.TreasuryProposal, error) {
	now := e.clock.Now()
	var proposals []*entities.TreasuryProposal
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		proposals, err = svc.governance.ListActive(ctx, now)
		return err
	})
	return proposals, err
}

// HasApproved reports whether signer approved proposal id
func (e *Engine) HasApproved(ctx context.Context, id int64, signer entities.UserID) (bool, error) {
	var approved bool
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		approved, err = svc.governance.HasApproved(ctx, id, signer)
		return err
	})
	return approved, err
}

// GetGovernanceState returns the system switchboard
func (e *Engine) GetGovernanceState(ctx context.Context) (*entities.GovernanceState, error) {
	var state *entities.GovernanceState
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		state, err = uow.GovernanceRepository().GetState(ctx)
		return err
	})
	return state, err
}
