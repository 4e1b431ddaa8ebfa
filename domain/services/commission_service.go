package services

import (
	"context"
	"fmt"
	"strconv"

	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"
	"matrixfund/domain/utils"

	log "github.com/sirupsen/logrus"
)

// CommissionResult summarizes the fan-out of one purchase.
// Credited + ForfeitedMissing + ForfeitedCap + Pooled always equals Amount.
type CommissionResult struct {
	PurchaseID       int64                      `json:"purchaseId"`
	Amount           int64                      `json:"amount"`
	Allocation       entities.ChannelAllocation `json:"allocation"`
	Credited         int64                      `json:"credited"`
	ForfeitedMissing int64                      `json:"forfeitedMissing"` // no recipient at that position
	ForfeitedCap     int64                      `json:"forfeitedCap"`     // recipient capped or ineligible
	Pooled           int64                      `json:"pooled"`
	Credits          []*entities.Credit         `json:"-"`
}

// Forfeited returns everything that was not credited or pooled
func (r *CommissionResult) Forfeited() int64 {
	return r.ForfeitedMissing + r.ForfeitedCap
}

// ReinvestmentResult summarizes the redistribution of a withdrawal's reinvested part
type ReinvestmentResult struct {
	Amount           int64                           `json:"amount"`
	Allocation       entities.ReinvestmentAllocation `json:"allocation"`
	Credited         int64                           `json:"credited"`
	ForfeitedMissing int64                           `json:"forfeitedMissing"`
	ForfeitedCap     int64                           `json:"forfeitedCap"`
	Pooled           int64                           `json:"pooled"`
}

// payout accumulates the outcome of one channel
type payout struct {
	credited         int64
	forfeitedMissing int64
	forfeitedCap     int64
	credits          []*entities.Credit
}

func (p *payout) add(other payout) {
	p.credited += other.credited
	p.forfeitedMissing += other.forfeitedMissing
	p.forfeitedCap += other.forfeitedCap
	p.credits = append(p.credits, other.credits...)
}

// creditRef identifies the event that funded a credit
type creditRef struct {
	source  entities.UserID
	refType entities.ReferenceType
	refID   string
}

// CommissionService computes and credits the reward channels of a purchase
type CommissionService struct {
	userRepo       interfaces.UserRepository
	matrixRepo     interfaces.MatrixRepository
	poolRepo       interfaces.PoolRepository
	creditRepo     interfaces.CreditRepository
	eventPublisher interfaces.EventPublisher
	plan           entities.CompensationPlan
}

// NewCommissionService creates a new commission service
func NewCommissionService(
	userRepo interfaces.UserRepository,
	matrixRepo interfaces.MatrixRepository,
	poolRepo interfaces.PoolRepository,
	creditRepo interfaces.CreditRepository,
	eventPublisher interfaces.EventPublisher,
	plan entities.CompensationPlan,
) *CommissionService {
	return &CommissionService{
		userRepo:       userRepo,
		matrixRepo:     matrixRepo,
		poolRepo:       poolRepo,
		creditRepo:     creditRepo,
		eventPublisher: eventPublisher,
		plan:           plan,
	}
}

// OnPackagePurchase splits a purchase across the five channels and credits every
// recipient. Callers run it inside one unit of work so the fan-out is atomic.
func (s *CommissionService) OnPackagePurchase(ctx context.Context, purchase *entities.Purchase) (*CommissionResult, error) {
	if purchase.Amount <= 0 {
		return nil, fmt.Errorf("%w: purchase amount %d", ErrInvalidAmount, purchase.Amount)
	}

	buyer, err := s.userRepo.GetByID(ctx, purchase.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}
	if buyer == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, purchase.BuyerID)
	}

	alloc := s.plan.Split(purchase.Amount)
	ref := creditRef{
		source:  buyer.ID,
		refType: entities.ReferenceTypePurchase,
		refID:   strconv.FormatInt(purchase.ID, 10),
	}
	cache := newUserCache(s.userRepo)
	var total payout

	direct, err := s.payDirect(ctx, cache, buyer, alloc.Direct, ref)
	if err != nil {
		return nil, err
	}
	total.add(direct)

	levels, err := s.payLevels(ctx, cache, buyer.ID, alloc.Level, entities.CreditChannelLevel, ref)
	if err != nil {
		return nil, err
	}
	total.add(levels)

	uplines, err := s.payUplines(ctx, cache, buyer.ID, alloc.Upline, entities.CreditChannelUpline, ref)
	if err != nil {
		return nil, err
	}
	total.add(uplines)

	pooled := int64(0)
	deposits := []struct {
		pool   entities.PoolType
		amount int64
	}{
		{entities.PoolTypeGlobalHelp, alloc.GlobalHelp},
		{entities.PoolTypeLeaderBonus, alloc.Leader},
		{entities.PoolTypeClub, alloc.Club},
	}
	for _, deposit := range deposits {
		if deposit.amount <= 0 {
			continue
		}
		if err := s.poolRepo.Deposit(ctx, deposit.pool, deposit.amount); err != nil {
			return nil, fmt.Errorf("failed to deposit into %s pool: %w", deposit.pool, err)
		}
		pooled += deposit.amount
	}

	result := &CommissionResult{
		PurchaseID:       purchase.ID,
		Amount:           purchase.Amount,
		Allocation:       alloc,
		Credited:         total.credited,
		ForfeitedMissing: total.forfeitedMissing,
		ForfeitedCap:     total.forfeitedCap,
		Pooled:           pooled,
		Credits:          total.credits,
	}

	log.WithFields(log.Fields{
		"purchaseID": purchase.ID,
		"buyer":      buyer.ID,
		"amount":     purchase.Amount,
		"credited":   result.Credited,
		"forfeited":  result.Forfeited(),
		"pooled":     result.Pooled,
		"credits":    len(result.Credits),
	}).Info("Commission distributed")

	return result, nil
}

// DistributeReinvestment routes the reinvested part of a withdrawal through the
// level ladder, the upline chain and the global help pool.
func (s *CommissionService) DistributeReinvestment(ctx context.Context, user *entities.User, amount int64, withdrawalID int64) (*ReinvestmentResult, error) {
	result := &ReinvestmentResult{Amount: amount}
	if amount <= 0 {
		return result, nil
	}

	alloc := s.plan.SplitReinvestment(amount)
	result.Allocation = alloc
	ref := creditRef{
		source:  user.ID,
		refType: entities.ReferenceTypeWithdrawal,
		refID:   strconv.FormatInt(withdrawalID, 10),
	}
	cache := newUserCache(s.userRepo)
	cache.adopt(user)
	var total payout

	levels, err := s.payLevels(ctx, cache, user.ID, alloc.Level, entities.CreditChannelReinvestLevel, ref)
	if err != nil {
		return nil, err
	}
	total.add(levels)

	uplines, err := s.payUplines(ctx, cache, user.ID, alloc.Upline, entities.CreditChannelReinvestUpline, ref)
	if err != nil {
		return nil, err
	}
	total.add(uplines)

	if alloc.GlobalHelp > 0 {
		if err := s.poolRepo.Deposit(ctx, entities.PoolTypeGlobalHelp, alloc.GlobalHelp); err != nil {
			return nil, fmt.Errorf("failed to deposit reinvestment into global help pool: %w", err)
		}
		result.Pooled = alloc.GlobalHelp
	}

	result.Credited = total.credited
	result.ForfeitedMissing = total.forfeitedMissing
	result.ForfeitedCap = total.forfeitedCap
	return result, nil
}

// payDirect credits the whole direct allocation to the buyer's sponsor
func (s *CommissionService) payDirect(ctx context.Context, cache *userCache, buyer *entities.User, amount int64, ref creditRef) (payout, error) {
	var out payout
	if amount <= 0 {
		return out, nil
	}
	if buyer.SponsorID == nil {
		out.forfeitedMissing = amount
		return out, nil
	}

	sponsor, err := cache.get(ctx, *buyer.SponsorID)
	if err != nil {
		return out, err
	}
	if sponsor == nil {
		out.forfeitedMissing = amount
		return out, nil
	}
	return s.credit(ctx, sponsor, amount, entities.CreditChannelDirect, 1, ref)
}

// payLevels walks the matrix ancestors along the level ladder; a missing level's
// share is forfeited along with the ladder's rounding residue
func (s *CommissionService) payLevels(ctx context.Context, cache *userCache, from entities.UserID, amount int64, channel entities.CreditChannel, ref creditRef) (payout, error) {
	var out payout
	if amount <= 0 {
		return out, nil
	}

	ancestors, err := s.matrixRepo.GetAncestors(ctx, from, len(s.plan.LevelLadderBps))
	if err != nil {
		return out, fmt.Errorf("failed to get matrix ancestors of %s: %w", from, err)
	}
	if _, err := cache.getAll(ctx, ancestors); err != nil {
		return out, err
	}

	var allotted int64
	for i, bps := range s.plan.LevelLadderBps {
		share := entities.PercentOf(amount, bps)
		allotted += share
		if share == 0 {
			continue
		}
		if i >= len(ancestors) {
			out.forfeitedMissing += share
			continue
		}
		recipient, err := cache.get(ctx, ancestors[i])
		if err != nil {
			return out, err
		}
		if recipient == nil {
			out.forfeitedMissing += share
			continue
		}
		paid, err := s.credit(ctx, recipient, share, channel, i+1, ref)
		if err != nil {
			return out, err
		}
		out.add(paid)
	}
	out.forfeitedMissing += amount - allotted
	return out, nil
}

// payUplines splits the allocation into UplineDepth equal shares over the sponsor
// chain; missing ancestors and the division remainder are forfeited
func (s *CommissionService) payUplines(ctx context.Context, cache *userCache, from entities.UserID, amount int64, channel entities.CreditChannel, ref creditRef) (payout, error) {
	var out payout
	if amount <= 0 {
		return out, nil
	}

	depth := s.plan.UplineDepth
	chain, err := s.userRepo.GetSponsorChain(ctx, from, depth)
	if err != nil {
		return out, fmt.Errorf("failed to get sponsor chain of %s: %w", from, err)
	}

	share := amount / int64(depth)
	out.forfeitedMissing += amount - share*int64(depth)
	if share == 0 {
		return out, nil
	}

	for i := 0; i < depth; i++ {
		if i >= len(chain) {
			out.forfeitedMissing += share * int64(depth-i)
			break
		}
		recipient := cache.adopt(chain[i])
		paid, err := s.credit(ctx, recipient, share, channel, i+1, ref)
		if err != nil {
			return out, err
		}
		out.add(paid)
	}
	return out, nil
}

func (s *CommissionService) credit(ctx context.Context, recipient *entities.User, amount int64, channel entities.CreditChannel, level int, ref creditRef) (payout, error) {
	source := ref.source
	credit := &entities.Credit{
		SourceID:       &source,
		Channel:        channel,
		Level:          level,
		ProposedAmount: amount,
		ReferenceType:  ref.refType,
		ReferenceID:    ref.refID,
	}
	credited, err := utils.RecordCredit(ctx, s.userRepo, s.creditRepo, s.eventPublisher, recipient, credit, s.plan.EarningsCapMultiplier)
	if err != nil {
		return payout{}, err
	}
	return payout{
		credited:     credited,
		forfeitedCap: amount - credited,
		credits:      []*entities.Credit{credit},
	}, nil
}
