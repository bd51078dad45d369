package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ordersync:seq:2025-01-01", DateKey(" 2025-01-01 "))
	assert.Equal(t, "ordersync:job:aggregated_sync:abc", JobKey("aggregated_sync", "abc"))
}

func TestNoopLockers(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	dates := NewDateLocker(nil, log)
	lease, ok, err := dates.AcquireDates(ctx, []string{"2025-01-01"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	held, err := lease.Refresh(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, held)
	assert.NoError(t, lease.Release(ctx))

	guard := NewJobGuard(nil, log)
	lease, ok, err = guard.Acquire(ctx, "daily_sync", "job-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, lease.Release(ctx))
}

func TestDateLockerAllOrNothing(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	locker := NewDateLocker(client, zaptest.NewLogger(t))

	lease, ok, err := locker.AcquireDates(ctx, []string{"2025-01-02", "2025-01-01", "2025-01-02"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, srv.Exists(DateKey("2025-01-01")))
	assert.True(t, srv.Exists(DateKey("2025-01-02")))

	_, ok, err = locker.AcquireDates(ctx, []string{"2024-12-31", "2025-01-02"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, srv.Exists(DateKey("2024-12-31")), "partial acquisition must be rolled back")

	require.NoError(t, lease.Release(ctx))
	assert.False(t, srv.Exists(DateKey("2025-01-01")))
	assert.False(t, srv.Exists(DateKey("2025-01-02")))
	assert.NoError(t, lease.Release(ctx))
}

func TestDateLockerReleaseKeepsForeignToken(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	locker := NewDateLocker(client, zaptest.NewLogger(t))

	lease, ok, err := locker.AcquireDates(ctx, []string{"2025-01-01"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, srv.Set(DateKey("2025-01-01"), "someone-else"))
	require.NoError(t, lease.Release(ctx))
	got, err := srv.Get(DateKey("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestDateLockerRejectsZeroTTL(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewDateLocker(client, zaptest.NewLogger(t))
	_, _, err := locker.AcquireDates(context.Background(), []string{"2025-01-01"}, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestJobGuard(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	guard := NewJobGuard(client, zaptest.NewLogger(t))

	lease, ok, err := guard.Acquire(ctx, "aggregated_sync", "job-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(ctx, "aggregated_sync", "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = guard.Acquire(ctx, "aggregated_sync", "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = guard.Acquire(ctx, "aggregated_sync", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDateLeaseRefreshExtendsEveryKey(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	locker := NewDateLocker(client, zaptest.NewLogger(t))

	lease, ok, err := locker.AcquireDates(ctx, []string{"2025-01-01", "2025-01-02"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(50 * time.Second)
	held, err := lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	srv.FastForward(50 * time.Second)
	assert.True(t, srv.Exists(DateKey("2025-01-01")), "refreshed key outlives the original ttl")
	assert.True(t, srv.Exists(DateKey("2025-01-02")))

	srv.FastForward(time.Minute)
	held, err = lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, held, "an expired lease cannot be revived")

	_, err = lease.Refresh(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestDateLeaseRefreshDetectsTakeover(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	locker := NewDateLocker(client, zaptest.NewLogger(t))

	lease, ok, err := locker.AcquireDates(ctx, []string{"2025-01-01"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, srv.Set(DateKey("2025-01-01"), "someone-else"))
	held, err := lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestJobLeaseRefresh(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestRedis(t)
	guard := NewJobGuard(client, zaptest.NewLogger(t))

	lease, ok, err := guard.Acquire(ctx, "aggregated_sync", "job-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(50 * time.Second)
	held, err := lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	srv.FastForward(50 * time.Second)
	_, ok, err = guard.Acquire(ctx, "aggregated_sync", "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "refreshed guard still blocks a second invocation")

	srv.FastForward(2 * time.Minute)
	held, err = lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, held)
}
