package testutil

import (
	"time"

	"matrixfund/domain/entities"
)

// FixedTime is the registration time used by the factories
var FixedTime = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// CreateTestUser creates an active user sponsored by sponsor, or a root when sponsor is empty
func CreateTestUser(id, sponsor entities.UserID) *entities.User {
	user := &entities.User{
		ID:             id,
		PackageTier:    entities.PackageTierStarter,
		TotalInvested:  1000,
		RegisteredAt:   FixedTime,
		LastActivityAt: FixedTime,
		IsActive:       true,
	}
	if sponsor != "" {
		s := sponsor
		user.SponsorID = &s
	}
	return user
}

// CreateTestUserWithInvestment creates a test user holding the given tier and investment
func CreateTestUserWithInvestment(id, sponsor entities.UserID, tier entities.PackageTier, invested int64) *entities.User {
	user := CreateTestUser(id, sponsor)
	user.PackageTier = tier
	user.TotalInvested = invested
	return user
}

// CreateTestNode creates a matrix node under parent, or the root when parent is empty
func CreateTestNode(id, parent entities.UserID, depth int) *entities.MatrixNode {
	node := &entities.MatrixNode{
		UserID:    id,
		Depth:     depth,
		CreatedAt: FixedTime,
	}
	if parent != "" {
		p := parent
		node.ParentID = &p
	}
	return node
}

// CreateTestCredit creates a direct credit for recipient referencing a purchase
func CreateTestCredit(recipient entities.UserID, amount int64, purchaseID string) *entities.Credit {
	return &entities.Credit{
		RecipientID:    recipient,
		Channel:        entities.CreditChannelDirect,
		ProposedAmount: amount,
		CreditedAmount: amount,
		BalanceAfter:   amount,
		ReferenceType:  entities.ReferenceTypePurchase,
		ReferenceID:    purchaseID,
		CreatedAt:      FixedTime,
	}
}

// CreateTestRun creates an in-progress run for job
func CreateTestRun(id string, job entities.PoolType, total int64) *entities.DistributionRun {
	return &entities.DistributionRun{
		ID:          id,
		Job:         job,
		Status:      entities.RunStatusInProgress,
		TotalAmount: total,
		Allotments:  map[string]entities.RunAllotment{},
		StartedAt:   FixedTime,
	}
}

// CreateTestProposal creates a pool withdrawal proposal expiring after ttl
func CreateTestProposal(proposer, recipient entities.UserID, amount int64, ttl time.Duration) *entities.TreasuryProposal {
	r := recipient
	return &entities.TreasuryProposal{
		Action:     entities.ProposalActionPoolWithdrawal,
		ProposerID: proposer,
		Token:      string(entities.PoolTypeGlobalHelp),
		Recipient:  &r,
		Amount:     amount,
		Reason:     "test",
		CreatedAt:  FixedTime,
		ExpiresAt:  FixedTime.Add(ttl),
	}
}
