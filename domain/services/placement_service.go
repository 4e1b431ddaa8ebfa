package services

import (
	"context"
	"fmt"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// PlacementService places new users into the binary matrix
type PlacementService struct {
	userRepo   interfaces.UserRepository
	matrixRepo interfaces.MatrixRepository
	plan       entities.CompensationPlan
}

// NewPlacementService creates a new placement service
func NewPlacementService(
	userRepo interfaces.UserRepository,
	matrixRepo interfaces.MatrixRepository,
	plan entities.CompensationPlan,
) *PlacementService {
	return &PlacementService{
		userRepo:   userRepo,
		matrixRepo: matrixRepo,
		plan:       plan,
	}
}

// Place puts newUser in the shallowest free slot beneath sponsor, scanning each
// level left to right, then grows the team of every matrix ancestor.
func (s *PlacementService) Place(ctx context.Context, sponsor, newUser entities.UserID, now time.Time) (*entities.MatrixPosition, error) {
	sponsorUser, err := s.userRepo.GetByID(ctx, sponsor)
	if err != nil {
		return nil, fmt.Errorf("failed to get sponsor: %w", err)
	}
	if sponsorUser == nil || sponsorUser.IsBlacklisted {
		return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsor)
	}

	parent, err := s.findOpenSlot(ctx, sponsor)
	if err != nil {
		return nil, err
	}
	side, _ := parent.FreeSide()

	parentID := parent.UserID
	node := &entities.MatrixNode{
		UserID:    newUser,
		ParentID:  &parentID,
		Depth:     parent.Depth + 1,
		CreatedAt: now,
	}
	if err := s.matrixRepo.Create(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to create matrix node: %w", err)
	}
	if err := s.matrixRepo.AttachChild(ctx, parent.UserID, side, newUser); err != nil {
		return nil, fmt.Errorf("failed to attach %s under %s: %w", newUser, parent.UserID, err)
	}

	if err := s.growTeams(ctx, newUser); err != nil {
		return nil, err
	}

	position := &entities.MatrixPosition{
		UserID:   newUser,
		ParentID: parent.UserID,
		Side:     side,
		Depth:    node.Depth,
	}

	log.WithFields(log.Fields{
		"user":    newUser,
		"sponsor": sponsor,
		"parent":  parent.UserID,
		"side":    side,
		"depth":   node.Depth,
	}).Debug("Placed user in matrix")

	return position, nil
}

// findOpenSlot runs the breadth-first search one level at a time
func (s *PlacementService) findOpenSlot(ctx context.Context, sponsor entities.UserID) (*entities.MatrixNode, error) {
	root, err := s.matrixRepo.GetNode(ctx, sponsor)
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix node for sponsor: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s has no matrix position", ErrSponsorNotFound, sponsor)
	}

	level := []*entities.MatrixNode{root}
	for len(level) > 0 {
		var next []entities.UserID
		for _, node := range level {
			if _, ok := node.FreeSide(); ok {
				return node, nil
			}
			next = append(next, node.Children()...)
		}

		nodes, err := s.matrixRepo.GetNodes(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("failed to load matrix level: %w", err)
		}
		level = orderNodes(next, nodes)
	}

	// a finite tree always has a free slot at its leaves
	return nil, fmt.Errorf("no free matrix slot beneath %s", sponsor)
}

// orderNodes restores BFS order, since batch loads come back unordered
func orderNodes(order []entities.UserID, nodes []*entities.MatrixNode) []*entities.MatrixNode {
	byID := make(map[entities.UserID]*entities.MatrixNode, len(nodes))
	for _, node := range nodes {
		byID[node.UserID] = node
	}
	ordered := make([]*entities.MatrixNode, 0, len(order))
	for _, id := range order {
		if node, ok := byID[id]; ok {
			ordered = append(ordered, node)
		}
	}
	return ordered
}

// growTeams adds the new user to every ancestor's team and refreshes their ranks
func (s *PlacementService) growTeams(ctx context.Context, newUser entities.UserID) error {
	ancestors, err := s.matrixRepo.GetAncestors(ctx, newUser, 0)
	if err != nil {
		return fmt.Errorf("failed to get matrix ancestors: %w", err)
	}
	if len(ancestors) == 0 {
		return nil
	}

	if err := s.userRepo.IncrementTeamSize(ctx, ancestors); err != nil {
		return fmt.Errorf("failed to increment team sizes: %w", err)
	}

	users, err := s.userRepo.GetByIDs(ctx, ancestors)
	if err != nil {
		return fmt.Errorf("failed to load ancestors: %w", err)
	}
	for _, user := range users {
		if err := RefreshLeaderRank(ctx, s.userRepo, user, s.plan); err != nil {
			return err
		}
	}
	return nil
}

// RefreshLeaderRank recomputes a user's rank and persists it when it changed
func RefreshLeaderRank(ctx context.Context, userRepo interfaces.UserRepository, user *entities.User, plan entities.CompensationPlan) error {
	rank := plan.RankFor(user.TeamSize, user.DirectReferralsCount)
	if rank == user.LeaderRank {
		return nil
	}

	log.WithFields(log.Fields{
		"user":     user.ID,
		"fromRank": user.LeaderRank,
		"toRank":   rank,
	}).Info("Leader rank changed")

	user.LeaderRank = rank
	if err := userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update leader rank for %s: %w", user.ID, err)
	}
	return nil
}
