package application

import (
	"context"

	"matrixfund/domain/services"
)

// DistributionEngine is the part of the engine the distribution worker drives
type DistributionEngine interface {
	CheckUpkeep(ctx context.Context) (*services.UpkeepStatus, error)
	PerformDistribution(ctx context.Context) (*services.DistributionResult, error)
	CleanupExpiredProposals(ctx context.Context) (int, error)
}
