package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
}

func TestAcquireRejectsSecondCaller(t *testing.T) {
	t.Parallel()

	locker := newTestLocker(t)
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "sync_source_1", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, lease)

	_, ok2, err2 := locker.Acquire(ctx, "sync_source_1", 300*time.Second)
	require.NoError(t, err2)
	require.False(t, ok2)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	locker := newTestLocker(t)
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "sync_source_2", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx))

	_, ok2, err2 := locker.Acquire(ctx, "sync_source_2", 300*time.Second)
	require.NoError(t, err2)
	require.True(t, ok2)
}

func TestReleaseIsCompareAndDelete(t *testing.T) {
	t.Parallel()

	locker := newTestLocker(t)
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "sync_source_3", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate the lease expiring and another owner taking the key before
	// this lease's Release call runs.
	require.NoError(t, lease.Release(ctx))
	other, ok2, err2 := locker.Acquire(ctx, "sync_source_3", 300*time.Second)
	require.NoError(t, err2)
	require.True(t, ok2)

	// The stale lease's Release must not delete the new owner's key.
	require.NoError(t, lease.Release(ctx))
	_, ok3, err3 := locker.Acquire(ctx, "sync_source_3", 300*time.Second)
	require.NoError(t, err3)
	require.False(t, ok3, "new owner's lock must survive a stale Release")

	require.NoError(t, other.Release(ctx))
}
