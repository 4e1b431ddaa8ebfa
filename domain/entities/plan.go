package entities

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// WithdrawalTier maps a minimum direct-referral count to a withdrawal percentage
type WithdrawalTier struct {
	MinDirectReferrals int64
	WithdrawBps        int64
}

// CompensationPlan is the immutable plan table consumed by the engine
type CompensationPlan struct {
	PackagePrices map[PackageTier]int64

	// Purchase split, must sum to BasisPoints
	DirectBps     int64
	LevelBps      int64
	UplineBps     int64
	LeaderBps     int64
	GlobalHelpBps int64
	ClubBps       int64

	// Share of the level allocation per matrix level, nearest first
	LevelLadderBps []int64
	UplineDepth    int

	EarningsCapMultiplier int64

	WithdrawalTiers []WithdrawalTier
	AdminFeeBps     int64

	// Split of the reinvested part of a withdrawal, must sum to BasisPoints
	ReinvestLevelBps      int64
	ReinvestUplineBps     int64
	ReinvestGlobalHelpBps int64

	ShiningStarTeamSize   int64
	ShiningStarDirects    int64
	SilverStarTeamSize    int64
	LeaderShiningShareBps int64

	ActivityWindow time.Duration
}

// DefaultCompensationPlan returns the standard plan in micro-USDT
func DefaultCompensationPlan() CompensationPlan {
	return CompensationPlan{
		PackagePrices: map[PackageTier]int64{
			PackageTierStarter: 30_000_000,
			PackageTierBronze:  50_000_000,
			PackageTierSilver:  100_000_000,
			PackageTierGold:    200_000_000,
		},
		DirectBps:     4000,
		LevelBps:      1000,
		UplineBps:     1000,
		LeaderBps:     1000,
		GlobalHelpBps: 3000,
		ClubBps:       0,
		// 3%, then 1% for levels 2-6, then 0.5% for levels 7-10 of the purchase
		LevelLadderBps:        []int64{3000, 1000, 1000, 1000, 1000, 1000, 500, 500, 500, 500},
		UplineDepth:           30,
		EarningsCapMultiplier: 4,
		WithdrawalTiers: []WithdrawalTier{
			{MinDirectReferrals: 0, WithdrawBps: 7000},
			{MinDirectReferrals: 5, WithdrawBps: 7500},
			{MinDirectReferrals: 20, WithdrawBps: 8000},
		},
		AdminFeeBps:           500,
		ReinvestLevelBps:      4000,
		ReinvestUplineBps:     3000,
		ReinvestGlobalHelpBps: 3000,
		ShiningStarTeamSize:   250,
		ShiningStarDirects:    10,
		SilverStarTeamSize:    500,
		LeaderShiningShareBps: 5000,
		ActivityWindow:        30 * 24 * time.Hour,
	}
}

// Validate checks the internal consistency of the plan
func (p CompensationPlan) Validate() error {
	for _, tier := range AllPackageTiers() {
		if p.PackagePrices[tier] <= 0 {
			return fmt.Errorf("price for %s must be positive", tier)
		}
	}
	for i := 1; i < len(AllPackageTiers()); i++ {
		lower, higher := AllPackageTiers()[i-1], AllPackageTiers()[i]
		if p.PackagePrices[higher] <= p.PackagePrices[lower] {
			return fmt.Errorf("price for %s must exceed %s", higher, lower)
		}
	}

	split := []int64{p.DirectBps, p.LevelBps, p.UplineBps, p.LeaderBps, p.GlobalHelpBps, p.ClubBps}
	if err := checkBpsSum("purchase split", split); err != nil {
		return err
	}
	if err := checkBpsSum("reinvestment split", []int64{p.ReinvestLevelBps, p.ReinvestUplineBps, p.ReinvestGlobalHelpBps}); err != nil {
		return err
	}

	if len(p.LevelLadderBps) == 0 {
		return errors.New("level ladder must have at least one level")
	}
	var ladder int64
	for _, bps := range p.LevelLadderBps {
		if bps < 0 {
			return errors.New("level ladder shares must be non-negative")
		}
		ladder += bps
	}
	if ladder > BasisPoints {
		return fmt.Errorf("level ladder sums to %d bps, more than the level allocation", ladder)
	}

	if p.UplineDepth <= 0 {
		return errors.New("upline depth must be positive")
	}
	if p.EarningsCapMultiplier <= 0 {
		return errors.New("earnings cap multiplier must be positive")
	}
	if p.AdminFeeBps < 0 || p.AdminFeeBps > BasisPoints {
		return errors.New("admin fee must be between 0 and 10000 bps")
	}
	if p.LeaderShiningShareBps < 0 || p.LeaderShiningShareBps > BasisPoints {
		return errors.New("leader shining share must be between 0 and 10000 bps")
	}

	if len(p.WithdrawalTiers) == 0 || p.WithdrawalTiers[0].MinDirectReferrals != 0 {
		return errors.New("withdrawal tiers must start at 0 direct referrals")
	}
	for i, tier := range p.WithdrawalTiers {
		if tier.WithdrawBps <= 0 || tier.WithdrawBps > BasisPoints {
			return fmt.Errorf("withdrawal tier %d has invalid percentage %d", i, tier.WithdrawBps)
		}
		if i > 0 && tier.MinDirectReferrals <= p.WithdrawalTiers[i-1].MinDirectReferrals {
			return errors.New("withdrawal tiers must be strictly ascending")
		}
	}
	return nil
}

func checkBpsSum(name string, parts []int64) error {
	var sum int64
	for _, part := range parts {
		if part < 0 {
			return fmt.Errorf("%s contains a negative share", name)
		}
		sum += part
	}
	if sum != BasisPoints {
		return fmt.Errorf("%s sums to %d bps, want %d", name, sum, BasisPoints)
	}
	return nil
}

// Price returns the price of a tier
func (p CompensationPlan) Price(tier PackageTier) (int64, bool) {
	price, ok := p.PackagePrices[tier]
	return price, ok && tier.IsValid()
}

// WithdrawBpsFor returns the withdrawal percentage for a direct-referral count
func (p CompensationPlan) WithdrawBpsFor(directReferrals int64) int64 {
	tiers := append([]WithdrawalTier(nil), p.WithdrawalTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinDirectReferrals < tiers[j].MinDirectReferrals })

	bps := tiers[0].WithdrawBps
	for _, tier := range tiers {
		if directReferrals >= tier.MinDirectReferrals {
			bps = tier.WithdrawBps
		}
	}
	return bps
}

// RankFor returns the leader rank earned with the given team and direct counts
func (p CompensationPlan) RankFor(teamSize, directReferrals int64) LeaderRank {
	switch {
	case teamSize >= p.SilverStarTeamSize:
		return LeaderRankSilverStar
	case teamSize >= p.ShiningStarTeamSize && directReferrals >= p.ShiningStarDirects:
		return LeaderRankShiningStar
	default:
		return LeaderRankNone
	}
}

// ChannelAllocation is a purchase amount split across the reward channels
type ChannelAllocation struct {
	Direct     int64 `json:"direct"`
	Level      int64 `json:"level"`
	Upline     int64 `json:"upline"`
	Leader     int64 `json:"leader"`
	GlobalHelp int64 `json:"globalHelp"`
	Club       int64 `json:"club"`
}

// Total returns the sum of all channels
func (a ChannelAllocation) Total() int64 {
	return a.Direct + a.Level + a.Upline + a.Leader + a.GlobalHelp + a.Club
}

// Split divides a purchase amount; rounding residue lands in the global help pool
func (p CompensationPlan) Split(amount int64) ChannelAllocation {
	alloc := ChannelAllocation{
		Direct: PercentOf(amount, p.DirectBps),
		Level:  PercentOf(amount, p.LevelBps),
		Upline: PercentOf(amount, p.UplineBps),
		Leader: PercentOf(amount, p.LeaderBps),
		Club:   PercentOf(amount, p.ClubBps),
	}
	alloc.GlobalHelp = amount - alloc.Direct - alloc.Level - alloc.Upline - alloc.Leader - alloc.Club
	return alloc
}

// ReinvestmentAllocation is the reinvested part of a withdrawal split for redistribution
type ReinvestmentAllocation struct {
	Level      int64 `json:"level"`
	Upline     int64 `json:"upline"`
	GlobalHelp int64 `json:"globalHelp"`
}

// SplitReinvestment divides a reinvested amount; residue lands in the global help pool
func (p CompensationPlan) SplitReinvestment(amount int64) ReinvestmentAllocation {
	alloc := ReinvestmentAllocation{
		Level:  PercentOf(amount, p.ReinvestLevelBps),
		Upline: PercentOf(amount, p.ReinvestUplineBps),
	}
	alloc.GlobalHelp = amount - alloc.Level - alloc.Upline
	return alloc
}
