package services

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"
)

// userCache keeps one in-memory copy per user for the span of an operation, so
// several credits to the same ancestor accumulate on the same record.
type userCache struct {
	repo  interfaces.UserRepository
	users map[entities.UserID]*entities.User
}

func newUserCache(repo interfaces.UserRepository) *userCache {
	return &userCache{
		repo:  repo,
		users: make(map[entities.UserID]*entities.User),
	}
}

// get returns the cached user or loads it; nil when not registered
func (c *userCache) get(ctx context.Context, id entities.UserID) (*entities.User, error) {
	if user, ok := c.users[id]; ok {
		return user, nil
	}
	user, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	if user != nil {
		c.users[id] = user
	}
	return user, nil
}

// getAll returns users in the order of ids, skipping unknown ones
func (c *userCache) getAll(ctx context.Context, ids []entities.UserID) ([]*entities.User, error) {
	var missing []entities.UserID
	for _, id := range ids {
		if _, ok := c.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		loaded, err := c.repo.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load users: %w", err)
		}
		for _, user := range loaded {
			c.users[user.ID] = user
		}
	}

	users := make([]*entities.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := c.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

// adopt returns the cached instance for user, caching it if new
func (c *userCache) adopt(user *entities.User) *entities.User {
	if cached, ok := c.users[user.ID]; ok {
		return cached
	}
	c.users[user.ID] = user
	return user
}
