package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sites/u1/", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "sites/u1/", time.Minute)
	require.ErrorIs(t, err, ErrLockBusy)

	other, err := locker.Acquire(ctx, "sites/u2/", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := locker.Acquire(ctx, "sites/u1/", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLockerExpiredLeaseIsReclaimed(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Now()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "sites/u1/", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.Acquire(ctx, "sites/u1/", time.Minute)
	require.NoError(t, err)

	// освобождение просроченной аренды не снимает новую
	require.NoError(t, stale.Release(ctx))
	_, err = locker.Acquire(ctx, "sites/u1/", time.Minute)
	require.ErrorIs(t, err, ErrLockBusy)
	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	locker := NewRedisLocker(client)
	ctx := context.Background()
	key := "test/" + time.Now().Format(time.RFC3339Nano)

	lease, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 5*time.Second)
	require.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, lease.Release(ctx))
	again, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
