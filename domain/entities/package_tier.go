package entities

import (
	"fmt"
	"strings"
)

// PackageTier is the investment package a user holds
type PackageTier int

const (
	PackageTierNone PackageTier = iota
	PackageTierStarter
	PackageTierBronze
	PackageTierSilver
	PackageTierGold
)

// AllPackageTiers lists the purchasable tiers in ascending order
func AllPackageTiers() []PackageTier {
	return []PackageTier{PackageTierStarter, PackageTierBronze, PackageTierSilver, PackageTierGold}
}

func (t PackageTier) String() string {
	switch t {
	case PackageTierStarter:
		return "starter"
	case PackageTierBronze:
		return "bronze"
	case PackageTierSilver:
		return "silver"
	case PackageTierGold:
		return "gold"
	default:
		return "none"
	}
}

// IsValid returns true for a purchasable tier
func (t PackageTier) IsValid() bool {
	return t >= PackageTierStarter && t <= PackageTierGold
}

// ParsePackageTier parses a tier name (case-insensitive)
func ParsePackageTier(s string) (PackageTier, error) {
	for _, tier := range AllPackageTiers() {
		if strings.EqualFold(strings.TrimSpace(s), tier.String()) {
			return tier, nil
		}
	}
	return PackageTierNone, fmt.Errorf("unknown package tier %q", s)
}

// MarshalText encodes the tier by name
func (t PackageTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name
func (t *PackageTier) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == "none" {
		*t = PackageTierNone
		return nil
	}
	tier, err := ParsePackageTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// LeaderRank is a leadership rank earned from team size and direct referrals
type LeaderRank int

const (
	LeaderRankNone LeaderRank = iota
	LeaderRankShiningStar
	LeaderRankSilverStar
)

func (r LeaderRank) String() string {
	switch r {
	case LeaderRankShiningStar:
		return "shining_star"
	case LeaderRankSilverStar:
		return "silver_star"
	default:
		return "none"
	}
}

// MarshalText encodes the rank by name
func (r LeaderRank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rank name. An empty value is no rank.
func (r *LeaderRank) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for _, rank := range []LeaderRank{LeaderRankNone, LeaderRankShiningStar, LeaderRankSilverStar} {
		if name == rank.String() {
			*r = rank
			return nil
		}
	}
	if name == "" {
		*r = LeaderRankNone
		return nil
	}
	return fmt.Errorf("unknown leader rank %q", string(text))
}
