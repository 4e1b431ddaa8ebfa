package entities

import "time"

// PoolType names one of the shared reward pools
type PoolType string

const (
	PoolTypeGlobalHelp  PoolType = "global_help"
	PoolTypeLeaderBonus PoolType = "leader_bonus"
	PoolTypeClub        PoolType = "club"
)

// AllPoolTypes returns the pools in distribution priority order
func AllPoolTypes() []PoolType {
	return []PoolType{PoolTypeGlobalHelp, PoolTypeLeaderBonus, PoolTypeClub}
}

// IsValid returns true for a known pool
func (p PoolType) IsValid() bool {
	switch p {
	case PoolTypeGlobalHelp, PoolTypeLeaderBonus, PoolTypeClub:
		return true
	}
	return false
}

// Pool is an accumulated balance awaiting periodic distribution
type Pool struct {
	Type             PoolType  `db:"pool_type"`
	Balance          int64     `db:"balance"`
	TotalReceived    int64     `db:"total_received"`
	TotalDistributed int64     `db:"total_distributed"`
	UpdatedAt        time.Time `db:"updated_at"`
}
