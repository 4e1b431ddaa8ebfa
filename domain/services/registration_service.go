package services

import (
	"context"
	"fmt"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// RegisterParams describes a new registration
type RegisterParams struct {
	UserID    entities.UserID
	SponsorID entities.UserID
	Tier      entities.PackageTier
}

// RegistrationResult is the outcome of a registration or upgrade
type RegistrationResult struct {
	User       *entities.User           `json:"user"`
	Position   *entities.MatrixPosition `json:"position,omitempty"`
	Purchase   *entities.Purchase       `json:"purchase"`
	Commission *CommissionResult        `json:"commission"`
}

// RegistrationService registers users and sells package upgrades
type RegistrationService struct {
	userRepo       interfaces.UserRepository
	matrixRepo     interfaces.MatrixRepository
	purchaseRepo   interfaces.PurchaseRepository
	transfer       interfaces.ValueTransfer
	placement      *PlacementService
	commission     *CommissionService
	eventPublisher interfaces.EventPublisher
	plan           entities.CompensationPlan
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(
	userRepo interfaces.UserRepository,
	matrixRepo interfaces.MatrixRepository,
	purchaseRepo interfaces.PurchaseRepository,
	transfer interfaces.ValueTransfer,
	placement *PlacementService,
	commission *CommissionService,
	eventPublisher interfaces.EventPublisher,
	plan entities.CompensationPlan,
) *RegistrationService {
	return &RegistrationService{
		userRepo:       userRepo,
		matrixRepo:     matrixRepo,
		purchaseRepo:   purchaseRepo,
		transfer:       transfer,
		placement:      placement,
		commission:     commission,
		eventPublisher: eventPublisher,
		plan:           plan,
	}
}

// Register takes payment, places the user in the matrix and pays commission.
// Input is fully validated before the first write.
func (s *RegistrationService) Register(ctx context.Context, params RegisterParams, now time.Time) (*RegistrationResult, error) {
	price, err := s.validateRegistration(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := s.transfer.TransferIn(ctx, params.UserID, price); err != nil {
		return nil, fmt.Errorf("failed to collect payment from %s: %w", params.UserID, err)
	}

	sponsorID := params.SponsorID
	user := &entities.User{
		ID:             params.UserID,
		SponsorID:      &sponsorID,
		RegisteredAt:   now,
		LastActivityAt: now,
		IsActive:       true,
	}
	user.Invest(params.Tier, price, s.plan.EarningsCapMultiplier)
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	position, err := s.placement.Place(ctx, params.SponsorID, params.UserID, now)
	if err != nil {
		return nil, err
	}

	// reload: placement bumped the sponsor's team size
	sponsor, err := s.userRepo.GetByID(ctx, params.SponsorID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload sponsor: %w", err)
	}
	sponsor.DirectReferralsCount++
	sponsor.LeaderRank = s.plan.RankFor(sponsor.TeamSize, sponsor.DirectReferralsCount)
	if err := s.userRepo.Update(ctx, sponsor); err != nil {
		return nil, fmt.Errorf("failed to update sponsor referrals: %w", err)
	}

	purchase := &entities.Purchase{
		BuyerID:   params.UserID,
		Tier:      params.Tier,
		Amount:    price,
		Kind:      entities.PurchaseKindRegistration,
		CreatedAt: now,
	}
	if err := s.purchaseRepo.Create(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	commission, err := s.commission.OnPackagePurchase(ctx, purchase)
	if err != nil {
		return nil, err
	}

	// commission may have changed nothing on the new user, but reload for the caller
	registered, err := s.userRepo.GetByID(ctx, params.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}

	s.publish(events.UserRegisteredEvent{
		UserID:    params.UserID,
		SponsorID: params.SponsorID,
		Tier:      params.Tier,
		Amount:    price,
		Timestamp: now,
	})
	s.publish(events.MatrixPlacedEvent{Position: *position, Sponsor: params.SponsorID})

	log.WithFields(log.Fields{
		"user":    params.UserID,
		"sponsor": params.SponsorID,
		"tier":    params.Tier,
		"parent":  position.ParentID,
		"depth":   position.Depth,
	}).Info("User registered")

	return &RegistrationResult{
		User:       registered,
		Position:   position,
		Purchase:   purchase,
		Commission: commission,
	}, nil
}

func (s *RegistrationService) validateRegistration(ctx context.Context, params RegisterParams) (int64, error) {
	if params.UserID.IsZero() || params.SponsorID.IsZero() {
		return 0, ErrInvalidAddress
	}
	price, ok := s.plan.Price(params.Tier)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTier, params.Tier)
	}
	if params.UserID == params.SponsorID {
		return 0, ErrSelfSponsorship
	}

	existing, err := s.userRepo.GetByID(ctx, params.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRegistered, params.UserID)
	}

	sponsor, err := s.userRepo.GetByID(ctx, params.SponsorID)
	if err != nil {
		return 0, fmt.Errorf("failed to get sponsor: %w", err)
	}
	if sponsor == nil || sponsor.IsBlacklisted {
		return 0, fmt.Errorf("%w: %s", ErrSponsorNotFound, params.SponsorID)
	}
	return price, nil
}

// UpgradePackage sells a higher tier at its full price, raising the earnings cap
func (s *RegistrationService) UpgradePackage(ctx context.Context, userID entities.UserID, tier entities.PackageTier, now time.Time) (*RegistrationResult, error) {
	price, ok := s.plan.Price(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if tier <= user.PackageTier {
		return nil, fmt.Errorf("%w: %s to %s", ErrTierNotUpgrade, user.PackageTier, tier)
	}

	if err := s.transfer.TransferIn(ctx, userID, price); err != nil {
		return nil, fmt.Errorf("failed to collect payment from %s: %w", userID, err)
	}

	fromTier := user.PackageTier
	user.Invest(tier, price, s.plan.EarningsCapMultiplier)
	user.Touch(now)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user investment: %w", err)
	}

	purchase := &entities.Purchase{
		BuyerID:   userID,
		Tier:      tier,
		Amount:    price,
		Kind:      entities.PurchaseKindUpgrade,
		CreatedAt: now,
	}
	if err := s.purchaseRepo.Create(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	commission, err := s.commission.OnPackagePurchase(ctx, purchase)
	if err != nil {
		return nil, err
	}

	s.publish(events.PackageUpgradedEvent{
		UserID:   userID,
		FromTier: fromTier,
		ToTier:   tier,
		Amount:   price,
	})

	log.WithFields(log.Fields{
		"user":     userID,
		"fromTier": fromTier,
		"toTier":   tier,
		"amount":   price,
	}).Info("Package upgraded")

	return &RegistrationResult{
		User:       user,
		Purchase:   purchase,
		Commission: commission,
	}, nil
}

// RegisterRoot creates the root of the matrix with a genesis package. Calling it
// again for an existing root is a no-op.
func (s *RegistrationService) RegisterRoot(ctx context.Context, rootID entities.UserID, tier entities.PackageTier, now time.Time) (*entities.User, error) {
	if rootID.IsZero() {
		return nil, ErrInvalidAddress
	}
	existing, err := s.userRepo.GetByID(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to check root: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	price, ok := s.plan.Price(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}

	root := &entities.User{
		ID:             rootID,
		RegisteredAt:   now,
		LastActivityAt: now,
		IsActive:       true,
	}
	root.Invest(tier, price, s.plan.EarningsCapMultiplier)
	if err := s.userRepo.Create(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to create root user: %w", err)
	}
	if err := s.matrixRepo.Create(ctx, &entities.MatrixNode{UserID: rootID, Depth: 0, CreatedAt: now}); err != nil {
		return nil, fmt.Errorf("failed to create root matrix node: %w", err)
	}

	log.WithFields(log.Fields{
		"root": rootID,
		"tier": tier,
	}).Info("Matrix root created")

	return root, nil
}

func (s *RegistrationService) publish(event events.Event) {
	if err := s.eventPublisher.Publish(event); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to publish event")
	}
}
