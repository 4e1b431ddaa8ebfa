package interfaces

import (
	"context"
	"errors"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
)

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(event events.Event) error
}

// TransactionalEventPublisher holds events until the surrounding transaction settles
type TransactionalEventPublisher interface {
	EventPublisher
	Flush(ctx context.Context) error
	Discard()
}

// Value-transfer failures; either one rolls back the surrounding unit of work.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("value transfer failed")
)

// ValueTransfer moves fungible balances between holders and the vault.
// Both calls either complete or fail without effect.
type ValueTransfer interface {
	// TransferIn moves amount from a holder into the vault
	TransferIn(ctx context.Context, from entities.UserID, amount int64) error

	// TransferOut moves amount from the vault to a holder
	TransferOut(ctx context.Context, to entities.UserID, amount int64) error
}

// TokenVault is the value-transfer ledger with funding and balance queries
type TokenVault interface {
	ValueTransfer

	// Fund credits a holder from outside the system
	Fund(ctx context.Context, holder entities.UserID, amount int64) error

	// BalanceOf returns a holder's balance, zero for unknown holders
	BalanceOf(ctx context.Context, holder entities.UserID) (int64, error)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}
