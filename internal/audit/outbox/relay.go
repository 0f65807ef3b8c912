package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"canon/internal/platform/kafka"
)

// BatchStore hands out locked batches of unpublished entries.
type BatchStore interface {
	ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, entries []Entry) error) (int, error)
}

// Publisher ships messages to the audit topic.
type Publisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
}

// Relay polls the outbox and publishes committed events in order. A failed
// batch stays unpublished and is retried on the next tick.
type Relay struct {
	store     BatchStore
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(store BatchStore, publisher Publisher, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, errors.New("outbox store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	r := &Relay{
		store:     store,
		publisher: publisher,
		interval:  2 * time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. Full batches are followed
// immediately by the next one; otherwise the relay waits for the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.ProcessOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "audit outbox relay batch failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes a single batch and returns how many entries it marked.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	n, err := r.store.ProcessBatch(ctx, r.batchSize, func(ctx context.Context, entries []Entry) error {
		msgs := make([]kafka.Message, len(entries))
		for i, e := range entries {
			msgs[i] = kafka.Message{
				Key:   e.AggregateID,
				Value: e.Payload,
				Headers: map[string]string{
					"event_id":       e.ID.String(),
					"event_type":     e.EventType,
					"aggregate_type": e.AggregateType,
				},
			}
		}
		return r.publisher.Publish(ctx, msgs)
	})
	if err != nil {
		r.metrics.IncFailures()
		return 0, err
	}
	r.metrics.AddPublished(n)
	if n > 0 {
		r.logger.DebugContext(ctx, "audit outbox batch published", "count", n)
	}
	return n, nil
}
