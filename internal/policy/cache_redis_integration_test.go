//go:build integration

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/platform/logger"
	"canon/pkg/platform/sentinel"
	"canon/pkg/testutil/containers"
)

type countingLookup struct {
	src   *MemorySource
	calls int
}

func (c *countingLookup) RequiresVerification(ctx context.Context, groupID string) (bool, error) {
	c.calls++
	return c.src.RequiresVerification(ctx, groupID)
}

func TestCachedLookup(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	src := NewMemorySource()
	src.SetPolicy("payments", true)
	counting := &countingLookup{src: src}
	cache := NewCachedLookup(rc.Client, counting, time.Minute, logger.Discard())

	for range 3 {
		requires, err := cache.RequiresVerification(ctx, "payments")
		require.NoError(t, err)
		assert.True(t, requires)
	}
	assert.Equal(t, 1, counting.calls)

	for range 2 {
		_, err := cache.RequiresVerification(ctx, "unknown")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	}
	assert.Equal(t, 2, counting.calls)

	src.SetPolicy("payments", false)
	require.NoError(t, cache.Invalidate(ctx, "payments"))
	requires, err := cache.RequiresVerification(ctx, "payments")
	require.NoError(t, err)
	assert.False(t, requires)
	assert.Equal(t, 3, counting.calls)
}
