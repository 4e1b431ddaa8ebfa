package services

import (
	"errors"

	"matrixfund/domain/interfaces"
)

// Validation errors are returned before any state is changed.
var (
	ErrInvalidTier       = errors.New("invalid package tier")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSelfSponsorship   = errors.New("user cannot sponsor themselves")
	ErrSponsorNotFound   = errors.New("sponsor not found")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrTierNotUpgrade    = errors.New("new tier must be higher than the current tier")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidRole       = errors.New("invalid role")
	ErrUnknownJob        = errors.New("unknown distribution job")
)

// Value-transfer errors roll back the whole operation.
var (
	ErrInsufficientFunds = interfaces.ErrInsufficientFunds
	ErrTransferFailed    = interfaces.ErrTransferFailed
)

// Withdrawal errors.
var (
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
)

// Distribution errors.
var (
	ErrAutomationFailure = errors.New("distribution step failed")
	ErrNothingToReset    = errors.New("circuit breaker is not open")
)

// Governance errors leave state untouched.
var (
	ErrUnauthorized          = errors.New("caller lacks the required role")
	ErrPaused                = errors.New("system is paused")
	ErrNotPaused             = errors.New("system is not paused")
	ErrBlacklisted           = errors.New("address is blacklisted")
	ErrRegistrationsDisabled = errors.New("registrations are disabled")
	ErrWithdrawalsDisabled   = errors.New("withdrawals are disabled")
	ErrNotSigner             = errors.New("caller is not a treasury signer")
	ErrAlreadyApproved       = errors.New("signer already approved this proposal")
	ErrProposalNotFound      = errors.New("proposal not found")
	ErrProposalExpired       = errors.New("proposal expired")
	ErrProposalCancelled     = errors.New("proposal cancelled")
	ErrProposalExecuted      = errors.New("proposal already executed")
	ErrNotProposer           = errors.New("only the proposer can cancel a proposal")
	ErrInvalidProposal       = errors.New("invalid proposal")
)

// IsValidationError reports whether err is caused by bad caller input
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidTier, ErrInvalidAmount, ErrSelfSponsorship, ErrSponsorNotFound,
		ErrAlreadyRegistered, ErrTierNotUpgrade, ErrInvalidAddress, ErrInvalidProposal,
		ErrInvalidRole, ErrUnknownJob,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsGovernanceError reports whether err is a permission or proposal rejection
func IsGovernanceError(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrPaused, ErrNotPaused, ErrBlacklisted, ErrRegistrationsDisabled,
		ErrWithdrawalsDisabled, ErrNotSigner, ErrAlreadyApproved, ErrProposalExpired,
		ErrProposalCancelled, ErrProposalExecuted, ErrNotProposer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
