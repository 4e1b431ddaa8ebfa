package application

import (
	"context"
	"fmt"

	"matrixfund/config"
	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"
	"matrixfund/domain/services"

	log "github.com/sirupsen/logrus"
)

// EngineConfig holds everything the engine needs besides storage
type EngineConfig struct {
	Plan         entities.CompensationPlan
	Schedule     *services.Schedule
	Distribution services.DistributionConfig
	Governance   services.GovernanceConfig
	Root         entities.UserID
	RootTier     entities.PackageTier
	Admins       []entities.UserID
	Emergency    []entities.UserID
	Signers      []entities.UserID
}

// NewEngineConfig derives the engine settings from the service configuration
func NewEngineConfig(cfg *config.Config) (EngineConfig, error) {
	schedule, err := cfg.Schedule()
	if err != nil {
		return EngineConfig{}, err
	}
	rootTier, err := cfg.RootPackageTier()
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		Plan:         cfg.CompensationPlan(),
		Schedule:     schedule,
		Distribution: cfg.DistributionConfig(),
		Governance:   cfg.GovernanceConfig(),
		Root:         entities.NewUserID(cfg.RootAddress),
		RootTier:     rootTier,
		Admins:       userIDs(cfg.AdminAddresses),
		Emergency:    userIDs(cfg.EmergencyAddresses),
		Signers:      userIDs(cfg.Signers),
	}, nil
}

func userIDs(addresses []string) []entities.UserID {
	ids := make([]entities.UserID, 0, len(addresses))
	for _, address := range addresses {
		if id := entities.NewUserID(address); !id.IsZero() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Engine is the use-case boundary of the ledger. Every call runs in its own
// unit of work; services are built against that unit of work's repositories.
type Engine struct {
	uowFactory UnitOfWorkFactory
	clock      interfaces.Clock
	config     EngineConfig
}

// NewEngine creates a new engine
func NewEngine(uowFactory UnitOfWorkFactory, clock interfaces.Clock, config EngineConfig) *Engine {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &Engine{
		uowFactory: uowFactory,
		clock:      clock,
		config:     config,
	}
}

// ledgerServices are the domain services bound to one unit of work
type ledgerServices struct {
	placement    *services.PlacementService
	commission   *services.CommissionService
	registration *services.RegistrationService
	withdrawal   *services.WithdrawalService
	distribution *services.DistributionService
	governance   *services.GovernanceService
}

func (e *Engine) servicesFor(uow UnitOfWork) *ledgerServices {
	plan := e.config.Plan
	eventBus := uow.EventBus()

	placement := services.NewPlacementService(uow.UserRepository(), uow.MatrixRepository(), plan)
	commission := services.NewCommissionService(
		uow.UserRepository(),
		uow.MatrixRepository(),
		uow.PoolRepository(),
		uow.CreditRepository(),
		eventBus,
		plan,
	)

	return &ledgerServices{
		placement:  placement,
		commission: commission,
		registration: services.NewRegistrationService(
			uow.UserRepository(),
			uow.MatrixRepository(),
			uow.PurchaseRepository(),
			uow.TokenVault(),
			placement,
			commission,
			eventBus,
			plan,
		),
		withdrawal: services.NewWithdrawalService(
			uow.UserRepository(),
			uow.WithdrawalRepository(),
			uow.GovernanceRepository(),
			uow.TokenVault(),
			commission,
			eventBus,
			plan,
			e.config.Distribution.AdminReserve,
		),
		distribution: services.NewDistributionService(
			uow.UserRepository(),
			uow.PoolRepository(),
			uow.CreditRepository(),
			uow.AutomationRepository(),
			uow.DistributionRunRepository(),
			uow.TokenVault(),
			eventBus,
			plan,
			e.config.Schedule,
			e.config.Distribution,
		),
		governance: services.NewGovernanceService(
			uow.GovernanceRepository(),
			uow.ProposalRepository(),
			uow.UserRepository(),
			uow.PoolRepository(),
			uow.TokenVault(),
			eventBus,
			e.config.Governance,
		),
	}
}

// inTransaction runs fn in a writable unit of work and commits when it succeeds
func (e *Engine) inTransaction(ctx context.Context, fn func(uow UnitOfWork, svc *ledgerServices) error) error {
	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(uow, e.servicesFor(uow)); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readOnly runs fn in a read-only unit of work that never blocks writers
func (e *Engine) readOnly(ctx context.Context, fn func(uow UnitOfWork, svc *ledgerServices) error) error {
	uow := e.uowFactory.CreateReadOnly()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return fn(uow, e.servicesFor(uow))
}

// Bootstrap creates the matrix root, seeds the automation state of every job
// and grants the configured roles. Running it again changes nothing.
func (e *Engine) Bootstrap(ctx context.Context) error {
	now := e.clock.Now()
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if _, err := svc.registration.RegisterRoot(ctx, e.config.Root, e.config.RootTier, now); err != nil {
			return fmt.Errorf("failed to register root: %w", err)
		}

		automation := uow.AutomationRepository()
		for _, job := range entities.AllPoolTypes() {
			state, err := automation.Get(ctx, job)
			if err != nil {
				return fmt.Errorf("failed to get automation state for %s: %w", job, err)
			}
			if state != nil {
				continue
			}
			if err := automation.Save(ctx, &entities.AutomationState{Job: job, LastDistributionTime: now}); err != nil {
				return fmt.Errorf("failed to seed automation state for %s: %w", job, err)
			}
			log.WithField("job", job).Info("Seeded distribution job")
		}

		grants := []struct {
			role    entities.Role
			holders []entities.UserID
		}{
			{entities.RoleAdmin, e.config.Admins},
			{entities.RoleEmergency, e.config.Emergency},
			{entities.RoleSigner, e.config.Signers},
		}
		for _, grant := range grants {
			for _, holder := range grant.holders {
				if err := uow.GovernanceRepository().GrantRole(ctx, &entities.RoleAssignment{
					UserID:    holder,
					Role:      grant.role,
					GrantedAt: now,
				}); err != nil {
					return fmt.Errorf("failed to grant %s to %s: %w", grant.role, holder, err)
				}
			}
		}

		log.WithFields(log.Fields{
			"root":      e.config.Root,
			"admins":    len(e.config.Admins),
			"emergency": len(e.config.Emergency),
			"signers":   len(e.config.Signers),
		}).Info("Ledger bootstrapped")
		return nil
	})
}
