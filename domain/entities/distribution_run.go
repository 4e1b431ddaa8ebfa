package entities

import "time"

// RunStatus is the lifecycle state of a distribution run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// RecipientGroupAll is the single group used when recipients are not split by rank
const RecipientGroupAll = "all"

// RunAllotment is the share of a run reserved for one recipient group
type RunAllotment struct {
	Amount      int64 `json:"amount"`
	TotalWeight int64 `json:"totalWeight"`
	Recipients  int   `json:"recipients"`
}

// DistributionRun drains one pool across a snapshot of eligible users in chunks
type DistributionRun struct {
	ID                string                  `db:"id"`
	Job               PoolType                `db:"job"`
	Status            RunStatus               `db:"status"`
	TotalAmount       int64                   `db:"total_amount"`
	DistributedAmount int64                   `db:"distributed_amount"`
	ReturnedAmount    int64                   `db:"returned_amount"` // sent back to the pool on completion
	ReservedAmount    int64                   `db:"reserved_amount"` // sent to the admin reserve
	Allotments        map[string]RunAllotment `db:"allotments"`
	RecipientCount    int                     `db:"recipient_count"`
	PaidCount         int                     `db:"paid_count"`
	StartedAt         time.Time               `db:"started_at"`
	CompletedAt       *time.Time              `db:"completed_at"`
}

// IsCompleted returns true once every recipient has been paid
func (r *DistributionRun) IsCompleted() bool {
	return r.Status == RunStatusCompleted
}

// Remaining returns what the run still holds
func (r *DistributionRun) Remaining() int64 {
	return r.TotalAmount - r.DistributedAmount - r.ReturnedAmount - r.ReservedAmount
}

// ShareFor returns the amount owed to a recipient of the given group and weight
func (r *DistributionRun) ShareFor(group string, weight int64) int64 {
	allotment, ok := r.Allotments[group]
	if !ok || allotment.TotalWeight <= 0 {
		return 0
	}
	return MulDiv(allotment.Amount, weight, allotment.TotalWeight)
}

// Complete marks the run finished
func (r *DistributionRun) Complete(now time.Time) {
	r.Status = RunStatusCompleted
	completedAt := now
	r.CompletedAt = &completedAt
}

// RunRecipient is one snapshotted payee of a run
type RunRecipient struct {
	RunID  string `db:"run_id"`
	UserID UserID `db:"user_id"`
	Seq    int64  `db:"seq"`
	Group  string `db:"group_name"`
	Weight int64  `db:"weight"`
	Paid   bool   `db:"paid"`
	Amount int64  `db:"amount"`
}

// RecipientWeighting selects how recipients are weighted within a group
type RecipientWeighting string

const (
	WeightByInvestment RecipientWeighting = "investment"
	WeightEqual        RecipientWeighting = "equal"
)

// RecipientCriteria selects and weights the users a run pays
type RecipientCriteria struct {
	ActiveSince   *time.Time
	ExcludeCapped bool
	MinTier       PackageTier
	Ranks         []LeaderRank // empty means any rank
	Weighting     RecipientWeighting
	GroupByRank   bool
}

// Matches reports whether a user satisfies the criteria
func (c RecipientCriteria) Matches(u *User) bool {
	if !u.CanReceive() {
		return false
	}
	if c.ExcludeCapped && u.IsCapped {
		return false
	}
	if c.ActiveSince != nil && u.LastActivityAt.Before(*c.ActiveSince) {
		return false
	}
	if u.PackageTier < c.MinTier {
		return false
	}
	if len(c.Ranks) > 0 {
		found := false
		for _, rank := range c.Ranks {
			if u.LeaderRank == rank {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return c.WeightOf(u) > 0
}

// GroupOf returns the recipient group a user falls into
func (c RecipientCriteria) GroupOf(u *User) string {
	if c.GroupByRank {
		return u.LeaderRank.String()
	}
	return RecipientGroupAll
}

// WeightOf returns a user's weight within their group
func (c RecipientCriteria) WeightOf(u *User) int64 {
	if c.Weighting == WeightByInvestment {
		return u.TotalInvested
	}
	return 1
}
