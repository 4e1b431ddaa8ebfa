package entities

// CreditChannel is the reward channel that produced a credit
type CreditChannel string

// All channels supported by the engine
const (
	// Purchase commission
	CreditChannelDirect CreditChannel = "direct"
	CreditChannelLevel  CreditChannel = "level"
	CreditChannelUpline CreditChannel = "upline"

	// Pool distributions
	CreditChannelGlobalHelp  CreditChannel = "global_help"
	CreditChannelLeaderBonus CreditChannel = "leader_bonus"
	CreditChannelClub        CreditChannel = "club"

	// Withdrawal reinvestment
	CreditChannelReinvestLevel  CreditChannel = "reinvest_level"
	CreditChannelReinvestUpline CreditChannel = "reinvest_upline"
)

// IsPoolChannel returns true for credits paid from a pool
func (c CreditChannel) IsPoolChannel() bool {
	return c == CreditChannelGlobalHelp ||
		c == CreditChannelLeaderBonus ||
		c == CreditChannelClub
}

// IsReinvestment returns true for credits funded by another user's withdrawal
func (c CreditChannel) IsReinvestment() bool {
	return c == CreditChannelReinvestLevel ||
		c == CreditChannelReinvestUpline
}

// ChannelForPool returns the credit channel a pool pays through
func ChannelForPool(pool PoolType) CreditChannel {
	switch pool {
	case PoolTypeLeaderBonus:
		return CreditChannelLeaderBonus
	case PoolTypeClub:
		return CreditChannelClub
	default:
		return CreditChannelGlobalHelp
	}
}

// Description returns a human-readable label
func (c CreditChannel) Description() string {
	switch c {
	case CreditChannelDirect:
		return "Direct sponsor bonus"
	case CreditChannelLevel:
		return "Level bonus"
	case CreditChannelUpline:
		return "Upline bonus"
	case CreditChannelGlobalHelp:
		return "Global help pool"
	case CreditChannelLeaderBonus:
		return "Leader bonus pool"
	case CreditChannelClub:
		return "Club pool"
	case CreditChannelReinvestLevel:
		return "Reinvested level bonus"
	case CreditChannelReinvestUpline:
		return "Reinvested upline bonus"
	default:
		return string(c)
	}
}
