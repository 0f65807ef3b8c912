//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"canon/pkg/testutil/containers"
)

func TestRedisLocker(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	l := NewRedis(rc.Client, WithTTL(time.Second), WithRetryPeriod(5*time.Millisecond))

	release, err := l.Acquire(ctx, "evidence")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "evidence")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	again, err := l.Acquire(ctx, "evidence")
	require.NoError(t, err)
	again()
}

func TestRedisLockerExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	l := NewRedis(rc.Client, WithTTL(30*time.Millisecond), WithRetryPeriod(5*time.Millisecond))
	stale, err := l.Acquire(ctx, "evidence")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	current, err := l.Acquire(ctx, "evidence")
	require.NoError(t, err)
	defer current()

	stale()
	exists, err := rc.Client.Exists(ctx, keyPrefix+"evidence").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), exists)
}
