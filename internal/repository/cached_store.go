package repository

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// CachedUserStore wraps a UserStore with an ID-keyed cache. Only GetByID is
// served from the cache; every write invalidates.
type CachedUserStore struct {
	store  UserStore
	cache  UserCache
	logger *logging.LoggerV2
}

// NewCachedUserStore creates a new cached user store.
func NewCachedUserStore(store UserStore, cache UserCache) *CachedUserStore {
	return &CachedUserStore{
		store:  store,
		cache:  cache,
		logger: logging.NewLoggerV2("cached-user-store"),
	}
}

// GetByID retrieves a user, checking cache first.
func (s *CachedUserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if user, err := s.cache.Get(ctx, id); err == nil && user != nil {
		return user, nil
	}

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, user); err != nil {
		s.logger.Warn("failed to cache user", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
	}

	return user, nil
}

// GetByUsername bypasses the cache. Logins must see the current status.
func (s *CachedUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.store.GetByUsername(ctx, username)
}

func (s *CachedUserStore) Create(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	return s.store.Create(ctx, req)
}

// Update invalidates before writing so a concurrent reader cannot re-cache the
// old row after the write.
func (s *CachedUserStore) Update(ctx context.Context, id int64, req *models.UpdateUserRequest) (*models.User, error) {
	s.invalidate(ctx, id)

	user, err := s.store.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return user, nil
}

func (s *CachedUserStore) Delete(ctx context.Context, id int64) error {
	s.invalidate(ctx, id)
	return s.store.Delete(ctx, id)
}

func (s *CachedUserStore) List(ctx context.Context, filter *models.UserListFilter) ([]*models.User, int, error) {
	return s.store.List(ctx, filter)
}

func (s *CachedUserStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	if err := s.store.UpdateLastLogin(ctx, id, at); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedUserStore) GetPasswordHash(ctx context.Context, id int64) (string, error) {
	return s.store.GetPasswordHash(ctx, id)
}

func (s *CachedUserStore) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate cached user", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
	}
}
