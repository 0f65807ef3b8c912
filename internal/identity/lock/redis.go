package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix          = "canon:evidence-lock:"
	defaultTTL         = 10 * time.Second
	defaultRetryPeriod = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed cannot release a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every engine instance using the same Redis.
type Redis struct {
	client      redis.UniversalClient
	ttl         time.Duration
	retryPeriod time.Duration
}

type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can block a key.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithRetryPeriod(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryPeriod = d
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: defaultTTL, retryPeriod: defaultRetryPeriod}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire polls SET NX PX until it wins or ctx ends. Redis errors are
// returned immediately so callers can fall back.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryPeriod)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, fmt.Errorf("acquire evidence lock: %w", err)
		}
		if ok {
			return func() {
				// Release must outlive a cancelled request context.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
			}, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}
}
