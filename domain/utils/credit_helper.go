package utils

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// RecordCredit applies a proposed credit to user under the earnings cap, persists the
// user and the ledger line, and emits a CommissionCreditedEvent.
// This is the single entry point for every commission and pool payout.
func RecordCredit(
	ctx context.Context,
	userRepo interfaces.UserRepository,
	creditRepo interfaces.CreditRepository,
	eventPublisher interfaces.EventPublisher,
	user *entities.User,
	credit *entities.Credit,
	capMultiplier int64,
) (int64, error) {
	if credit.ProposedAmount <= 0 {
		return 0, nil
	}

	credited := user.ApplyCredit(credit.ProposedAmount, capMultiplier)
	credit.RecipientID = user.ID
	credit.CreditedAmount = credited
	credit.BalanceAfter = user.WithdrawableAmount

	if credited > 0 {
		if err := userRepo.Update(ctx, user); err != nil {
			return 0, fmt.Errorf("failed to update earnings for %s: %w", user.ID, err)
		}
	}

	if err := creditRepo.Record(ctx, credit); err != nil {
		return 0, fmt.Errorf("failed to record credit for %s: %w", user.ID, err)
	}

	event := events.CommissionCreditedEvent{
		RecipientID:    user.ID,
		Channel:        credit.Channel,
		Level:          credit.Level,
		ProposedAmount: credit.ProposedAmount,
		CreditedAmount: credited,
		Capped:         user.IsCapped,
		ReferenceType:  credit.ReferenceType,
		ReferenceID:    credit.ReferenceID,
	}
	log.WithFields(log.Fields{
		"recipient": user.ID,
		"channel":   credit.Channel,
		"level":     credit.Level,
		"proposed":  credit.ProposedAmount,
		"credited":  credited,
	}).Debug("Publishing CommissionCreditedEvent")
	if err := eventPublisher.Publish(event); err != nil {
		log.WithError(err).Error("Failed to publish commission credited event")
	}

	return credited, nil
}
