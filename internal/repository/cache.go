package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const userCachePrefix = "user:"

// RedisUserCache implements UserCache on Redis.
type RedisUserCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.LoggerV2
}

// NewRedisUserCache creates a Redis-backed user cache sharing client with the
// session store.
func NewRedisUserCache(client *redis.Client, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{
		client: client,
		ttl:    ttl,
		logger: logging.NewLoggerV2("redis-user-cache"),
	}
}

func userCacheKey(id int64) string {
	return userCachePrefix + strconv.FormatInt(id, 10)
}

// Get retrieves a user from the cache.
func (c *RedisUserCache) Get(ctx context.Context, id int64) (*models.User, error) {
	key := userCacheKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.logger.Debug("cache miss", logging.Fields{"key": key})
		return nil, nil
	}
	if err != nil {
		logging.Errorf("cache get error for key %s: %v", key, err)
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		c.logger.Error("cache unmarshal error", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
		return nil, err
	}

	return &user, nil
}

// Set stores a user in the cache.
func (c *RedisUserCache) Set(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	key := userCacheKey(user.ID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logging.Errorf("cache set error for key %s: %v", key, err)
		return err
	}

	c.logger.Debug("user cached", logging.Fields{"user_id": user.ID, "ttl": c.ttl.String()})
	return nil
}

// Invalidate removes a user from the cache.
func (c *RedisUserCache) Invalidate(ctx context.Context, id int64) error {
	key := userCacheKey(id)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logging.Errorf("cache invalidate error for key %s: %v", key, err)
		return err
	}
	return nil
}

// Ping checks if the cache is accessible.
func (c *RedisUserCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NoOpUserCache is used when ENABLE_USER_CACHE is off.
type NoOpUserCache struct{}

func NewNoOpUserCache() *NoOpUserCache {
	return &NoOpUserCache{}
}

func (c *NoOpUserCache) Get(ctx context.Context, id int64) (*models.User, error) {
	return nil, nil
}

func (c *NoOpUserCache) Set(ctx context.Context, user *models.User) error {
	return nil
}

func (c *NoOpUserCache) Invalidate(ctx context.Context, id int64) error {
	return nil
}
