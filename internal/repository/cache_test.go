package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

func newTestCache(t *testing.T) (*RedisUserCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisUserCache(client, 15*time.Minute), mr
}

func TestRedisUserCache(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	user, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, user, "miss is not an error")

	require.NoError(t, cache.Set(ctx, &models.User{ID: 1, Username: "alice", Role: models.RoleAdmin}))
	assert.True(t, mr.Exists("user:1"))
	assert.Equal(t, 15*time.Minute, mr.TTL("user:1"))

	user, err = cache.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	require.NoError(t, cache.Invalidate(ctx, 1))
	assert.False(t, mr.Exists("user:1"))
	assert.NoError(t, cache.Ping(ctx))
}

func TestRedisUserCacheCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("user:5", "{not json"))

	_, err := cache.Get(context.Background(), 5)
	assert.Error(t, err)
}

// fakeUserStore counts calls so tests can see what the cache absorbed.
type fakeUserStore struct {
	UserStore
	users      map[int64]*models.User
	getByIDHit int
}

func (f *fakeUserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	f.getByIDHit++
	u, ok := f.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) Update(ctx context.Context, id int64, req *models.UpdateUserRequest) (*models.User, error) {
	u := f.users[id]
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	f.users[id].LastLoginAt = &at
	return nil
}

func (f *fakeUserStore) Delete(ctx context.Context, id int64) error {
	delete(f.users, id)
	return nil
}

func TestCachedUserStore(t *testing.T) {
	cache, mr := newTestCache(t)
	backing := &fakeUserStore{users: map[int64]*models.User{
		1: {ID: 1, Username: "alice", FullName: "Alice"},
	}}
	store := NewCachedUserStore(backing, cache)
	ctx := context.Background()

	_, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	_, err = store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, backing.getByIDHit, "second read served from cache")

	name := "Alice L."
	_, err = store.Update(ctx, 1, &models.UpdateUserRequest{FullName: &name})
	require.NoError(t, err)
	assert.False(t, mr.Exists("user:1"))

	user, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", user.FullName)
	assert.Equal(t, 2, backing.getByIDHit)

	require.NoError(t, store.UpdateLastLogin(ctx, 1, fixedNow))
	assert.False(t, mr.Exists("user:1"))

	require.NoError(t, store.Delete(ctx, 1))
	_, err = store.GetByID(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCachedUserStoreWithNoOpCache(t *testing.T) {
	backing := &fakeUserStore{users: map[int64]*models.User{1: {ID: 1}}}
	store := NewCachedUserStore(backing, NewNoOpUserCache())

	for i := 0; i < 3; i++ {
		_, err := store.GetByID(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, backing.getByIDHit)
}
