package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	storage, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	require.NoError(t, err)
	assert.Equal(t, "gorole:", storage.config.KeyPrefix)
	assert.Equal(t, "gorole:role:u1", storage.roleKey("u1"))
}

func TestStorage_GetUpsertRole(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.GetRole(ctx, "user1")
	assert.ErrorIs(t, err, gorole.ErrAssignmentNotFound)

	eventAt := time.Now().UTC().Truncate(time.Millisecond)
	res, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID: "user1", RoleID: 2, EventAt: eventAt, Source: "checkout.session.completed",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Previous)

	got, err := storage.GetRole(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RoleID)
	assert.True(t, eventAt.Equal(got.EventAt))
	assert.Equal(t, "checkout.session.completed", got.Source)

	res, err = storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user1", RoleID: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 2, res.Previous.RoleID)
	assert.Equal(t, "checkout.session.completed", res.Previous.Source)
	got, err = storage.GetRole(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RoleID)

	require.NoError(t, storage.DeleteRole(ctx, "user1"))
	_, err = storage.GetRole(ctx, "user1")
	assert.ErrorIs(t, err, gorole.ErrAssignmentNotFound)
}

func TestStorage_UpsertRole_Invalid(t *testing.T) {
	storage, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), DefaultConfig())
	require.NoError(t, err)

	_, err = storage.UpsertRole(context.Background(), &gorole.UpsertRequest{RoleID: 2})
	assert.ErrorIs(t, err, gorole.ErrInvalidAssignment)
}

func TestStorage_UpsertRole_RejectStale(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	newer := time.Now().UTC()

	_, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user1", RoleID: 3, EventAt: newer, RejectStale: true})
	require.NoError(t, err)

	res, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID: "user1", RoleID: 2, EventAt: newer.Add(-time.Minute), RejectStale: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 3, res.Previous.RoleID)

	got, err := storage.GetRole(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RoleID)

	res, err = storage.UpsertRole(ctx, &gorole.UpsertRequest{
		UserID: "user1", RoleID: 2, EventAt: newer.Add(time.Minute), RejectStale: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestStorage_RoleTTL(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{RoleTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user1", RoleID: 2})
	require.NoError(t, err)

	ttl, err := client.PTTL(ctx, storage.roleKey("user1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestStorage_ConcurrentUpserts(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(role int) {
			defer wg.Done()
			_, err := storage.UpsertRole(ctx, &gorole.UpsertRequest{UserID: "user2", RoleID: role})
			assert.NoError(t, err)
		}(2 + i%2)
	}
	wg.Wait()

	got, err := storage.GetRole(ctx, "user2")
	require.NoError(t, err)
	assert.Contains(t, []int{2, 3}, got.RoleID)
}
