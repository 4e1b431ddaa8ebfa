package services

import (
	"context"
	"fmt"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// Capability is a privileged action guarded by a role
type Capability string

const (
	CapabilityPause        Capability = "pause"
	CapabilityBlacklist    Capability = "blacklist"
	CapabilityResetBreaker Capability = "reset_breaker"
	CapabilityGrantRole    Capability = "grant_role"
	CapabilityRevokeRole   Capability = "revoke_role"
	CapabilityPropose      Capability = "propose"
	CapabilityApprove      Capability = "approve"
)

// capabilityRoles is the role each capability requires
var capabilityRoles = map[Capability]entities.Role{
	CapabilityPause:        entities.RoleEmergency,
	CapabilityBlacklist:    entities.RoleEmergency,
	CapabilityResetBreaker: entities.RoleAdmin,
	CapabilityGrantRole:    entities.RoleAdmin,
	CapabilityRevokeRole:   entities.RoleAdmin,
	CapabilityPropose:      entities.RoleSigner,
	CapabilityApprove:      entities.RoleSigner,
}

// Operation is a state-mutating entry point subject to the gate check
type Operation string

const (
	OperationRegister   Operation = "register"
	OperationUpgrade    Operation = "upgrade"
	OperationWithdraw   Operation = "withdraw"
	OperationDistribute Operation = "distribute"
)

// GovernanceConfig holds the multi-signature parameters
type GovernanceConfig struct {
	RequiredSignatures int
	ProposalTTL        time.Duration
}

// ProposeParams describes a new treasury proposal
type ProposeParams struct {
	Proposer  entities.UserID
	Action    entities.ProposalAction
	Token     string
	Recipient *entities.UserID
	Amount    int64
	Reason    string
}

// GovernanceService enforces roles, the system switchboard and treasury proposals
type GovernanceService struct {
	governanceRepo interfaces.GovernanceRepository
	proposalRepo   interfaces.ProposalRepository
	userRepo       interfaces.UserRepository
	poolRepo       interfaces.PoolRepository
	transfer       interfaces.ValueTransfer
	eventPublisher interfaces.EventPublisher
	config         GovernanceConfig
}

// NewGovernanceService creates a new governance service
func NewGovernanceService(
	governanceRepo interfaces.GovernanceRepository,
	proposalRepo interfaces.ProposalRepository,
	userRepo interfaces.UserRepository,
	poolRepo interfaces.PoolRepository,
	transfer interfaces.ValueTransfer,
	eventPublisher interfaces.EventPublisher,
	config GovernanceConfig,
) *GovernanceService {
	if config.RequiredSignatures <= 0 {
		config.RequiredSignatures = 1
	}
	return &GovernanceService{
		governanceRepo: governanceRepo,
		proposalRepo:   proposalRepo,
		userRepo:       userRepo,
		poolRepo:       poolRepo,
		transfer:       transfer,
		eventPublisher: eventPublisher,
		config:         config,
	}
}

// Authorize checks that actor holds the role a capability requires
func (s *GovernanceService) Authorize(ctx context.Context, actor entities.UserID, capability Capability) error {
	role, ok := capabilityRoles[capability]
	if !ok {
		return fmt.Errorf("%w: unknown capability %q", ErrUnauthorized, capability)
	}
	has, err := s.governanceRepo.HasRole(ctx, actor, role)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if has {
		return nil
	}
	if role == entities.RoleSigner {
		return fmt.Errorf("%w: %s", ErrNotSigner, actor)
	}
	return fmt.Errorf("%w: %s needs %s for %s", ErrUnauthorized, actor, role, capability)
}

// CheckOperation is the gate every state-mutating entry point passes first
func (s *GovernanceService) CheckOperation(ctx context.Context, op Operation, actor entities.UserID) error {
	state, err := s.governanceRepo.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get governance state: %w", err)
	}
	if state.Paused {
		return ErrPaused
	}

	if !actor.IsZero() {
		user, err := s.userRepo.GetByID(ctx, actor)
		if err != nil {
			return fmt.Errorf("failed to get actor: %w", err)
		}
		if user != nil && user.IsBlacklisted {
			return fmt.Errorf("%w: %s", ErrBlacklisted, actor)
		}
	}

	switch op {
	case OperationRegister:
		if !state.RegistrationsEnabled {
			return ErrRegistrationsDisabled
		}
	case OperationWithdraw:
		if !state.WithdrawalsEnabled {
			return ErrWithdrawalsDisabled
		}
	}
	return nil
}

// Pause halts every gated operation. Only a proposal can unpause.
func (s *GovernanceService) Pause(ctx context.Context, actor entities.UserID, reason string, now time.Time) error {
	if err := s.Authorize(ctx, actor, CapabilityPause); err != nil {
		return err
	}
	state, err := s.governanceRepo.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get governance state: %w", err)
	}
	if state.Paused {
		return nil
	}

	state.Pause(actor, reason, now)
	if err := s.governanceRepo.SaveState(ctx, state); err != nil {
		return fmt.Errorf("failed to save governance state: %w", err)
	}

	s.publish(events.SystemPausedEvent{Paused: true, By: actor, Reason: reason})
	log.WithFields(log.Fields{
		"by":     actor,
		"reason": reason,
	}).Warn("System paused")
	return nil
}

// SetBlacklisted blocks or clears a user. Blacklisted users forfeit every credit.
func (s *GovernanceService) SetBlacklisted(ctx context.Context, actor, target entities.UserID, blacklisted bool) error {
	if err := s.Authorize(ctx, actor, CapabilityBlacklist); err != nil {
		return err
	}
	user, err := s.userRepo.GetByID(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, target)
	}
	if user.IsBlacklisted == blacklisted {
		return nil
	}

	user.IsBlacklisted = blacklisted
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update blacklist flag: %w", err)
	}

	s.publish(events.UserBlacklistedEvent{UserID: target, Blacklisted: blacklisted, By: actor})
	log.WithFields(log.Fields{
		"user":        target,
		"blacklisted": blacklisted,
		"by":          actor,
	}).Warn("Blacklist updated")
	return nil
}

// GrantRole gives target a role
func (s *GovernanceService) GrantRole(ctx context.Context, actor, target entities.UserID, role entities.Role, now time.Time) error {
	if err := s.Authorize(ctx, actor, CapabilityGrantRole); err != nil {
		return err
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if target.IsZero() {
		return ErrInvalidAddress
	}
	grantedBy := actor
	if err := s.governanceRepo.GrantRole(ctx, &entities.RoleAssignment{
		UserID:    target,
		Role:      role,
		GrantedBy: &grantedBy,
		GrantedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	log.WithFields(log.Fields{
		"user": target,
		"role": role,
		"by":   actor,
	}).Info("Role granted")
	return nil
}

// RevokeRole removes a role from target
func (s *GovernanceService) RevokeRole(ctx context.Context, actor, target entities.UserID, role entities.Role) error {
	if err := s.Authorize(ctx, actor, CapabilityRevokeRole); err != nil {
		return err
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.governanceRepo.RevokeRole(ctx, target, role); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	log.WithFields(log.Fields{
		"user": target,
		"role": role,
		"by":   actor,
	}).Info("Role revoked")
	return nil
}

// Propose opens a treasury proposal with the proposer's own approval. With a
// single required signature it executes immediately.
func (s *GovernanceService) Propose(ctx context.Context, params ProposeParams, now time.Time) (*entities.TreasuryProposal, error) {
	if err := s.Authorize(ctx, params.Proposer, CapabilityPropose); err != nil {
		return nil, err
	}
	if err := validateProposal(params); err != nil {
		return nil, err
	}

	proposal := &entities.TreasuryProposal{
		Action:     params.Action,
		ProposerID: params.Proposer,
		Token:      params.Token,
		Recipient:  params.Recipient,
		Amount:     params.Amount,
		Reason:     params.Reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.ProposalTTL),
	}
	if err := s.proposalRepo.Create(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}
	if err := s.proposalRepo.AddApproval(ctx, proposal.ID, params.Proposer, now); err != nil {
		return nil, fmt.Errorf("failed to record proposer approval: %w", err)
	}
	proposal.Approvals = []entities.UserID{params.Proposer}

	s.publish(events.ProposalCreatedEvent{
		ProposalID: proposal.ID,
		Action:     proposal.Action,
		Proposer:   proposal.ProposerID,
		Amount:     proposal.Amount,
		Reason:     proposal.Reason,
	})
	log.WithFields(log.Fields{
		"proposalID": proposal.ID,
		"action":     proposal.Action,
		"proposer":   proposal.ProposerID,
		"amount":     proposal.Amount,
	}).Info("Treasury proposal created")

	if proposal.ApprovalCount() >= s.config.RequiredSignatures {
		if err := s.execute(ctx, proposal, now); err != nil {
			return nil, err
		}
	}
	return proposal, nil
}

func validateProposal(params ProposeParams) error {
	switch params.Action {
	case entities.ProposalActionPoolWithdrawal:
		if !entities.PoolType(params.Token).IsValid() {
			return fmt.Errorf("%w: unknown pool %q", ErrInvalidProposal, params.Token)
		}
		if params.Recipient == nil || params.Recipient.IsZero() {
			return fmt.Errorf("%w: pool withdrawal needs a recipient", ErrInvalidProposal)
		}
		if params.Amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidProposal)
		}
	case entities.ProposalActionSetAdminFee:
		if params.Amount < 0 || params.Amount > entities.BasisPoints {
			return fmt.Errorf("%w: admin fee must be between 0 and %d bps", ErrInvalidProposal, entities.BasisPoints)
		}
	case entities.ProposalActionSetRegistrations, entities.ProposalActionSetWithdrawals:
		if params.Amount != 0 && params.Amount != 1 {
			return fmt.Errorf("%w: toggle amount must be 0 or 1", ErrInvalidProposal)
		}
	case entities.ProposalActionUnpause:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidProposal, params.Action)
	}
	return nil
}

// Approve adds a signer's approval; the approval reaching the threshold executes the action
func (s *GovernanceService) Approve(ctx context.Context, id int64, signer entities.UserID, now time.Time) (*entities.TreasuryProposal, error) {
	if err := s.Authorize(ctx, signer, CapabilityApprove); err != nil {
		return nil, err
	}
	proposal, err := s.getOpenProposal(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if proposal.HasApproved(signer) {
		return nil, fmt.Errorf("%w: %s on proposal %d", ErrAlreadyApproved, signer, id)
	}

	if err := s.proposalRepo.AddApproval(ctx, id, signer, now); err != nil {
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}
	proposal.Approvals = append(proposal.Approvals, signer)

	s.publish(events.ProposalApprovedEvent{
		ProposalID: id,
		Signer:     signer,
		Approvals:  proposal.ApprovalCount(),
	})
	log.WithFields(log.Fields{
		"proposalID": id,
		"signer":     signer,
		"approvals":  proposal.ApprovalCount(),
		"required":   s.config.RequiredSignatures,
	}).Info("Treasury proposal approved")

	if proposal.ApprovalCount() >= s.config.RequiredSignatures {
		if err := s.execute(ctx, proposal, now); err != nil {
			return nil, err
		}
	}
	return proposal, nil
}

// Cancel withdraws a proposal; only its proposer may do so
func (s *GovernanceService) Cancel(ctx context.Context, id int64, proposer entities.UserID, now time.Time) (*entities.TreasuryProposal, error) {
	proposal, err := s.proposalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %d: %w", id, err)
	}
	if proposal == nil {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	if proposal.ProposerID != proposer {
		return nil, ErrNotProposer
	}
	switch proposal.Status(now) {
	case entities.ProposalStatusExecuted:
		return nil, ErrProposalExecuted
	case entities.ProposalStatusCancelled:
		return nil, ErrProposalCancelled
	}

	proposal.Cancelled = true
	if err := s.proposalRepo.Update(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to cancel proposal %d: %w", id, err)
	}
	s.publish(events.ProposalCancelledEvent{ProposalID: id})
	log.WithFields(log.Fields{
		"proposalID": id,
		"proposer":   proposer,
	}).Info("Treasury proposal cancelled")
	return proposal, nil
}

// CleanupExpired cancels every proposal that expired without executing
func (s *GovernanceService) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.proposalRepo.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired proposals: %w", err)
	}
	for _, proposal := range expired {
		proposal.Cancelled = true
		if err := s.proposalRepo.Update(ctx, proposal); err != nil {
			return 0, fmt.Errorf("failed to cancel expired proposal %d: %w", proposal.ID, err)
		}
		s.publish(events.ProposalCancelledEvent{ProposalID: proposal.ID, Expired: true})
	}
	if len(expired) > 0 {
		log.WithField("count", len(expired)).Info("Expired treasury proposals cleaned up")
	}
	return len(expired), nil
}

// ListActive returns proposals still open for approval
func (s *GovernanceService) ListActive(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	proposals, err := s.proposalRepo.ListOpen(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list open proposals: %w", err)
	}
	return proposals, nil
}

// HasApproved reports whether signer approved proposal id
func (s *GovernanceService) HasApproved(ctx context.Context, id int64, signer entities.UserID) (bool, error) {
	proposal, err := s.proposalRepo.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to get proposal %d: %w", id, err)
	}
	if proposal == nil {
		return false, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	return proposal.HasApproved(signer), nil
}

func (s *GovernanceService) getOpenProposal(ctx context.Context, id int64, now time.Time) (*entities.TreasuryProposal, error) {
	proposal, err := s.proposalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %d: %w", id, err)
	}
	if proposal == nil {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	switch proposal.Status(now) {
	case entities.ProposalStatusExecuted:
		return nil, ErrProposalExecuted
	case entities.ProposalStatusCancelled:
		return nil, ErrProposalCancelled
	case entities.ProposalStatusExpired:
		return nil, ErrProposalExpired
	}
	return proposal, nil
}

// execute runs the proposal's action in the caller's unit of work
func (s *GovernanceService) execute(ctx context.Context, proposal *entities.TreasuryProposal, now time.Time) error {
	switch proposal.Action {
	case entities.ProposalActionPoolWithdrawal:
		pool := entities.PoolType(proposal.Token)
		if err := s.poolRepo.Withdraw(ctx, pool, proposal.Amount); err != nil {
			return fmt.Errorf("failed to withdraw from %s pool: %w", pool, err)
		}
		if err := s.transfer.TransferOut(ctx, *proposal.Recipient, proposal.Amount); err != nil {
			return fmt.Errorf("failed to pay proposal %d: %w", proposal.ID, err)
		}
	default:
		if err := s.applySwitch(ctx, proposal); err != nil {
			return err
		}
	}

	proposal.MarkExecuted(now)
	if err := s.proposalRepo.Update(ctx, proposal); err != nil {
		return fmt.Errorf("failed to mark proposal %d executed: %w", proposal.ID, err)
	}

	s.publish(events.ProposalExecutedEvent{ProposalID: proposal.ID, Action: proposal.Action})
	log.WithFields(log.Fields{
		"proposalID": proposal.ID,
		"action":     proposal.Action,
		"amount":     proposal.Amount,
	}).Info("Treasury proposal executed")
	return nil
}

// applySwitch executes the proposal actions that only touch the governance state
func (s *GovernanceService) applySwitch(ctx context.Context, proposal *entities.TreasuryProposal) error {
	state, err := s.governanceRepo.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get governance state: %w", err)
	}

	switch proposal.Action {
	case entities.ProposalActionSetAdminFee:
		fee := proposal.Amount
		state.AdminFeeBps = &fee
	case entities.ProposalActionUnpause:
		if !state.Paused {
			return ErrNotPaused
		}
		state.Unpause()
		s.publish(events.SystemPausedEvent{Paused: false, By: proposal.ProposerID, Reason: proposal.Reason})
	case entities.ProposalActionSetRegistrations:
		state.RegistrationsEnabled = proposal.Amount != 0
	case entities.ProposalActionSetWithdrawals:
		state.WithdrawalsEnabled = proposal.Amount != 0
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidProposal, proposal.Action)
	}

	if err := s.governanceRepo.SaveState(ctx, state); err != nil {
		return fmt.Errorf("failed to save governance state: %w", err)
	}
	return nil
}

func (s *GovernanceService) publish(event events.Event) {
	if err := s.eventPublisher.Publish(event); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to publish event")
	}
}
