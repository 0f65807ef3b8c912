package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"canon/internal/policy/ports"
	"canon/pkg/platform/sentinel"
)

const (
	policyKeyPrefix = "canon:policy:"

	cachedRequired    = "1"
	cachedNotRequired = "0"
	cachedUnknown     = "-"
)

// CachedLookup serves policy flags from Redis and reads through to the source
// on a miss. Unknown groups are cached too. A Redis failure is not a policy
// failure: the lookup goes straight to the source.
type CachedLookup struct {
	client redis.UniversalClient
	source ports.PolicyLookup
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedLookup(client redis.UniversalClient, source ports.PolicyLookup, ttl time.Duration, logger *slog.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLookup{client: client, source: source, ttl: ttl, logger: logger}
}

func (c *CachedLookup) RequiresVerification(ctx context.Context, groupID string) (bool, error) {
	key := policyKeyPrefix + groupID
	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		switch val {
		case cachedRequired:
			return true, nil
		case cachedNotRequired:
			return false, nil
		case cachedUnknown:
			return false, sentinel.ErrNotFound
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "policy cache read failed", "group_id", groupID, "error", err)
	}

	requires, err := c.source.RequiresVerification(ctx, groupID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		c.store(ctx, key, cachedUnknown)
	case err != nil:
		return false, err
	case requires:
		c.store(ctx, key, cachedRequired)
	default:
		c.store(ctx, key, cachedNotRequired)
	}
	return requires, err
}

// Invalidate drops a cached flag after the group's policy changed.
func (c *CachedLookup) Invalidate(ctx context.Context, groupID string) error {
	return c.client.Del(ctx, policyKeyPrefix+groupID).Err()
}

func (c *CachedLookup) store(ctx context.Context, key, val string) {
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "policy cache write failed", "key", key, "error", err)
	}
}
