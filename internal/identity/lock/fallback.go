package lock

import (
	"context"
	"errors"
	"log/slog"

	"canon/pkg/platform/circuit"
)

// Fallback uses the primary Locker and degrades to a local one while the
// primary is failing. Degraded mode only loses cross-instance serialization;
// the store's unique evidence indexes still reject duplicate identities.
type Fallback struct {
	primary Locker
	local   Locker
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewFallback(primary, local Locker, logger *slog.Logger, opts ...circuit.Option) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary: primary,
		local:   local,
		breaker: circuit.New("evidence-lock", opts...),
		logger:  logger,
	}
}

func (f *Fallback) Acquire(ctx context.Context, key string) (func(), error) {
	if f.breaker.Allow() {
		release, err := f.primary.Acquire(ctx, key)
		if err == nil {
			if _, change := f.breaker.RecordSuccess(); change.Closed {
				f.logger.InfoContext(ctx, "evidence lock recovered", "breaker", f.breaker.Name())
			}
			return release, nil
		}
		if errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		_, change := f.breaker.RecordFailure()
		if change.Opened {
			f.logger.WarnContext(ctx, "evidence lock degraded to local", "breaker", f.breaker.Name(), "error", err)
		} else {
			f.logger.WarnContext(ctx, "evidence lock unavailable, using local lock", "error", err)
		}
	}
	return f.local.Acquire(ctx, key)
}
