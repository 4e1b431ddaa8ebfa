package entities

import (
	"strings"
	"time"
)

// UserID identifies a participant by wallet address
type UserID string

// NewUserID normalizes an address into a UserID
func NewUserID(address string) UserID {
	return UserID(strings.ToLower(strings.TrimSpace(address)))
}

func (id UserID) String() string {
	return string(id)
}

// IsZero returns true for an empty id
func (id UserID) IsZero() bool {
	return id == ""
}

// User is a registered participant and their running totals
type User struct {
	Seq                  int64       `db:"seq" json:"seq"`
	ID                   UserID      `db:"id" json:"id"`
	SponsorID            *UserID     `db:"sponsor_id" json:"sponsorId,omitempty"` // nil only for the root
	PackageTier          PackageTier `db:"package_tier" json:"packageTier"`
	TotalInvested        int64       `db:"total_invested" json:"totalInvested"`
	TotalEarnings        int64       `db:"total_earnings" json:"totalEarnings"`
	WithdrawableAmount   int64       `db:"withdrawable_amount" json:"withdrawableAmount"`
	TotalWithdrawn       int64       `db:"total_withdrawn" json:"totalWithdrawn"`
	IsCapped             bool        `db:"is_capped" json:"isCapped"`
	DirectReferralsCount int64       `db:"direct_referrals_count" json:"directReferralsCount"`
	TeamSize             int64       `db:"team_size" json:"teamSize"`
	LeaderRank           LeaderRank  `db:"leader_rank" json:"leaderRank"`
	RegisteredAt         time.Time   `db:"registered_at" json:"registeredAt"`
	LastActivityAt       time.Time   `db:"last_activity_at" json:"lastActivityAt"`
	IsActive             bool        `db:"is_active" json:"isActive"`
	IsBlacklisted        bool        `db:"is_blacklisted" json:"isBlacklisted"`
	UpdatedAt            time.Time   `db:"updated_at" json:"updatedAt"`
}

// IsRoot returns true for the user at the top of the matrix
func (u *User) IsRoot() bool {
	return u.SponsorID == nil
}

// CanReceive returns true if the user may be credited
func (u *User) CanReceive() bool {
	return u.IsActive && !u.IsBlacklisted
}

// EarningsCeiling returns the lifetime earnings limit for the current investment
func (u *User) EarningsCeiling(multiplier int64) int64 {
	return u.TotalInvested * multiplier
}

// RemainingCap returns how much more the user may earn
func (u *User) RemainingCap(multiplier int64) int64 {
	remaining := u.EarningsCeiling(multiplier) - u.TotalEarnings
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ApplyCredit credits at most the remaining cap and returns the amount credited.
// Anything above the cap is dropped.
func (u *User) ApplyCredit(proposed, multiplier int64) int64 {
	if proposed <= 0 || !u.CanReceive() {
		return 0
	}
	credited := min(proposed, u.RemainingCap(multiplier))
	u.TotalEarnings += credited
	u.WithdrawableAmount += credited
	u.refreshCap(multiplier)
	return credited
}

// Invest records a package purchase, raising the earnings ceiling
func (u *User) Invest(tier PackageTier, amount, multiplier int64) {
	u.TotalInvested += amount
	if tier > u.PackageTier {
		u.PackageTier = tier
	}
	u.refreshCap(multiplier)
}

// DrainWithdrawable zeroes the withdrawable balance and returns what it held
func (u *User) DrainWithdrawable() int64 {
	amount := u.WithdrawableAmount
	u.WithdrawableAmount = 0
	return amount
}

// Touch records activity at the given time
func (u *User) Touch(now time.Time) {
	u.LastActivityAt = now
}

func (u *User) refreshCap(multiplier int64) {
	u.IsCapped = u.TotalEarnings >= u.EarningsCeiling(multiplier)
}
