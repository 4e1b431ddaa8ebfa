package entities

import "time"

// ReferenceType names what a credit's reference id points at
type ReferenceType string

const (
	ReferenceTypePurchase        ReferenceType = "purchase"
	ReferenceTypeWithdrawal      ReferenceType = "withdrawal"
	ReferenceTypeDistributionRun ReferenceType = "distribution_run"
)

// Credit is one ledger line paid to a user by a reward channel
type Credit struct {
	ID             int64         `db:"id"`
	RecipientID    UserID        `db:"recipient_id"`
	SourceID       *UserID       `db:"source_id"` // buyer or withdrawing user; nil for pool payouts
	Channel        CreditChannel `db:"channel"`
	Level          int           `db:"level"` // 1-based ancestor distance, 0 when not applicable
	ProposedAmount int64         `db:"proposed_amount"`
	CreditedAmount int64         `db:"credited_amount"`
	BalanceAfter   int64         `db:"balance_after"` // withdrawable amount after the credit
	ReferenceType  ReferenceType `db:"reference_type"`
	ReferenceID    string        `db:"reference_id"`
	CreatedAt      time.Time     `db:"created_at"`
}

// ForfeitedAmount returns the part of the proposal the cap dropped
func (c *Credit) ForfeitedAmount() int64 {
	return c.ProposedAmount - c.CreditedAmount
}

// WasTruncated returns true if the cap reduced the credit
func (c *Credit) WasTruncated() bool {
	return c.CreditedAmount < c.ProposedAmount
}

// PurchaseKind distinguishes first purchases from upgrades
type PurchaseKind string

const (
	PurchaseKindRegistration PurchaseKind = "registration"
	PurchaseKindUpgrade      PurchaseKind = "upgrade"
)

// Purchase is a package payment that triggers commission
type Purchase struct {
	ID        int64        `db:"id"`
	BuyerID   UserID       `db:"buyer_id"`
	Tier      PackageTier  `db:"tier"`
	Amount    int64        `db:"amount"`
	Kind      PurchaseKind `db:"kind"`
	CreatedAt time.Time    `db:"created_at"`
}

// Withdrawal is a completed withdrawal with its split
type Withdrawal struct {
	ID               int64     `db:"id"`
	UserID           UserID    `db:"user_id"`
	GrossAmount      int64     `db:"gross_amount"`
	WithdrawnAmount  int64     `db:"withdrawn_amount"`
	FeeAmount        int64     `db:"fee_amount"`
	NetAmount        int64     `db:"net_amount"`
	ReinvestedAmount int64     `db:"reinvested_amount"`
	WithdrawBps      int64     `db:"withdraw_bps"`
	FeeBps           int64     `db:"fee_bps"`
	CreatedAt        time.Time `db:"created_at"`
}

// VaultHolder is the token account that holds every deposited package payment
const VaultHolder UserID = "vault"

// TokenAccount is a holder's balance in the value-transfer ledger
type TokenAccount struct {
	Holder    UserID    `db:"holder"`
	Balance   int64     `db:"balance"`
	UpdatedAt time.Time `db:"updated_at"`
}
