// Package lock serializes identity creation per canonical evidence key.
//
// The unique fingerprint indexes in the store are what guarantee a single
// identity per evidence value; the lock keeps concurrent misses on the same
// evidence from racing to that index so the loser sees the winner's record
// on its first lookup instead of a conflict.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the context ends before the lock is granted.
var ErrNotAcquired = errors.New("evidence lock not acquired")

// Locker grants exclusive ownership of a key until release is called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// numShards bounds memory use; unrelated keys may share a shard.
const numShards = 128

// Local is an in-process Locker backed by sharded channel semaphores, so a
// waiter can give up when its context ends.
type Local struct {
	shards [numShards]chan struct{}
}

func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	sem := l.shards[shardFor(key)]
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}

func shardFor(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h % numShards
}
