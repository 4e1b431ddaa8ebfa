package entities

import "time"

// Role is a privilege held by an address
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleEmergency Role = "emergency"
	RoleSigner    Role = "signer"
)

// IsValid returns true for a known role
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleEmergency || r == RoleSigner
}

// RoleAssignment grants a role to an address
type RoleAssignment struct {
	UserID    UserID    `db:"user_id"`
	Role      Role      `db:"role"`
	GrantedBy *UserID   `db:"granted_by"`
	GrantedAt time.Time `db:"granted_at"`
}

// GovernanceState is the system-wide switchboard
type GovernanceState struct {
	Paused               bool       `db:"paused"`
	PausedAt             *time.Time `db:"paused_at"`
	PausedBy             *UserID    `db:"paused_by"`
	PauseReason          string     `db:"pause_reason"`
	RegistrationsEnabled bool       `db:"registrations_enabled"`
	WithdrawalsEnabled   bool       `db:"withdrawals_enabled"`
	AdminFeeBps          *int64     `db:"admin_fee_bps"` // nil uses the plan default
	UpdatedAt            time.Time  `db:"updated_at"`
}

// EffectiveAdminFeeBps returns the override if set, otherwise the plan fee
func (g *GovernanceState) EffectiveAdminFeeBps(planFee int64) int64 {
	if g != nil && g.AdminFeeBps != nil {
		return *g.AdminFeeBps
	}
	return planFee
}

// Pause stops every state-mutating operation
func (g *GovernanceState) Pause(by UserID, reason string, now time.Time) {
	g.Paused = true
	pausedAt := now
	g.PausedAt = &pausedAt
	g.PausedBy = &by
	g.PauseReason = reason
}

// Unpause resumes operations
func (g *GovernanceState) Unpause() {
	g.Paused = false
	g.PausedAt = nil
	g.PausedBy = nil
	g.PauseReason = ""
}
