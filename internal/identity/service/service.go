// Package service resolves evidence to canonical identities and manages their
// verification status and history.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"canon/internal/audit"
	"canon/internal/identity/lock"
	"canon/internal/identity/metrics"
	"canon/internal/identity/models"
	"canon/pkg/requestcontext"
)

// Store is the identity persistence port. Mutate serializes read-modify-write
// per identity and persists the record with the returned event atomically.
type Store interface {
	Create(ctx context.Context, identity *models.Identity, event *audit.Event) error
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	FindByFingerprint(ctx context.Context, field models.EvidenceField, value string) (*models.Identity, error)
	Exists(ctx context.Context, id string) (bool, error)
	Mutate(ctx context.Context, id string, fn models.MutateFunc) (*models.Identity, error)
	ListHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]*models.Identity, error)
	ListHighRisk(ctx context.Context, threshold, limit int) ([]*models.Identity, error)
}

// BiometricMatcher is an external similarity scorer for face embeddings. It is
// consulted only after exact evidence lookups miss and returns the id of an
// identity whose embedding it considers the same person.
type BiometricMatcher interface {
	Match(ctx context.Context, faceEmbeddingID string) (identityID string, ok bool, err error)
}

const (
	// resolveTimeout bounds a shared resolution that outlives its first caller.
	resolveTimeout  = 5 * time.Second
	resolveAttempts = 2
	idAttempts      = 5
)

// Service orchestrates identity resolution. Matching and transitions live in
// models; this layer owns locking, retries, error translation and logging.
type Service struct {
	store    Store
	locker   lock.Locker
	matcher  BiometricMatcher
	weights  models.MatchWeights
	newID    func(now time.Time) string
	inflight singleflight.Group
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker replaces the in-process evidence lock, e.g. with a Redis lock
// shared across instances.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithBiometricMatcher(m BiometricMatcher) Option {
	return func(s *Service) {
		s.matcher = m
	}
}

func WithMatchWeights(w models.MatchWeights) Option {
	return func(s *Service) {
		s.weights = w
	}
}

// WithIDGenerator overrides identifier minting (tests).
func WithIDGenerator(fn func(now time.Time) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		locker:  lock.NewLocal(),
		weights: models.DefaultMatchWeights(),
		newID:   models.NewIdentityID,
		logger:  slog.Default(),
		tracer:  otel.Tracer("canon/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

// withRequest stamps the request id onto an event before it is persisted.
func withRequest(ctx context.Context, ev *audit.Event) *audit.Event {
	if ev != nil {
		ev.RequestID = requestcontext.RequestID(ctx)
	}
	return ev
}
