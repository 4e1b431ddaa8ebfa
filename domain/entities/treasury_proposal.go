package entities

import "time"

// ProposalAction is the privileged operation a treasury proposal executes
type ProposalAction string

const (
	ProposalActionPoolWithdrawal   ProposalAction = "pool_withdrawal"
	ProposalActionSetAdminFee      ProposalAction = "set_admin_fee"
	ProposalActionUnpause          ProposalAction = "unpause"
	ProposalActionSetRegistrations ProposalAction = "set_registrations"
	ProposalActionSetWithdrawals   ProposalAction = "set_withdrawals"
)

// IsValid returns true for a known action
func (a ProposalAction) IsValid() bool {
	switch a {
	case ProposalActionPoolWithdrawal, ProposalActionSetAdminFee,
		ProposalActionUnpause, ProposalActionSetRegistrations, ProposalActionSetWithdrawals:
		return true
	}
	return false
}

// ProposalStatus is the derived state of a proposal
type ProposalStatus string

const (
	ProposalStatusOpen      ProposalStatus = "open"
	ProposalStatusExecuted  ProposalStatus = "executed"
	ProposalStatusCancelled ProposalStatus = "cancelled"
	ProposalStatusExpired   ProposalStatus = "expired"
)

// TreasuryProposal is a multi-signature request for a privileged action
type TreasuryProposal struct {
	ID         int64          `db:"id"`
	Action     ProposalAction `db:"action"`
	ProposerID UserID         `db:"proposer_id"`
	Token      string         `db:"token"` // pool drained by a withdrawal proposal
	Recipient  *UserID        `db:"recipient"`
	Amount     int64          `db:"amount"`
	Reason     string         `db:"reason"`
	Approvals  []UserID       `db:"-"`
	Executed   bool           `db:"executed"`
	Cancelled  bool           `db:"cancelled"`
	CreatedAt  time.Time      `db:"created_at"`
	ExpiresAt  time.Time      `db:"expires_at"`
	ExecutedAt *time.Time     `db:"executed_at"`
}

// Status returns the proposal state at the given time
func (p *TreasuryProposal) Status(now time.Time) ProposalStatus {
	switch {
	case p.Executed:
		return ProposalStatusExecuted
	case p.Cancelled:
		return ProposalStatusCancelled
	case !now.Before(p.ExpiresAt):
		return ProposalStatusExpired
	default:
		return ProposalStatusOpen
	}
}

// HasApproved returns true if the signer already approved
func (p *TreasuryProposal) HasApproved(signer UserID) bool {
	for _, approval := range p.Approvals {
		if approval == signer {
			return true
		}
	}
	return false
}

// ApprovalCount returns the number of distinct approvals
func (p *TreasuryProposal) ApprovalCount() int {
	return len(p.Approvals)
}

// MarkExecuted flags the proposal as executed
func (p *TreasuryProposal) MarkExecuted(now time.Time) {
	p.Executed = true
	executedAt := now
	p.ExecutedAt = &executedAt
}
