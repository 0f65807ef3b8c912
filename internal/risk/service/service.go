// Package service persists risk assessments and overrides and serves the
// stored breakdowns.
package service

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/identity/store"
	"canon/internal/risk/engine"
	"canon/internal/risk/metrics"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/requestcontext"
)

// Store is the subset of the identity store the risk service needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	Mutate(ctx context.Context, id string, fn models.MutateFunc) (*models.Identity, error)
	ListHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error)
}

// recentAssessments caps the risk events returned with a breakdown.
const recentAssessments = 5

const notFoundMsg = "identity not found"

type Service struct {
	store   Store
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
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

func New(store Store, eng *engine.Engine, opts ...Option) *Service {
	if eng == nil {
		eng = engine.NewDefault()
	}
	s := &Service{
		store:  store,
		engine: eng,
		logger: slog.Default(),
		tracer: otel.Tracer("canon/risk"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score is the pure scoring function exposed through the service.
func (s *Service) Score(signals engine.Signals) (engine.Assessment, error) {
	return s.engine.Score(signals)
}

// ScoreAndPersist scores caller-supplied signals and stores the result with
// its risk_assessed event in one atomic mutation.
func (s *Service) ScoreAndPersist(ctx context.Context, id string, signals engine.Signals, actor audit.Actor) (*models.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "risk.ScoreAndPersist")
	defer span.End()
	span.SetAttributes(attribute.String("identity.id", id))

	if err := validateActor(actor); err != nil {
		return nil, err
	}
	assessment, err := s.engine.Score(signals)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, id, actor, func(*models.Identity) (engine.Assessment, error) {
		return assessment, nil
	})
}

// Reassess derives signals from the identity's state under the same lock that
// persists the result, so the score always reflects the stored counters.
func (s *Service) Reassess(ctx context.Context, id string, actor audit.Actor) (*models.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "risk.Reassess")
	defer span.End()
	span.SetAttributes(attribute.String("identity.id", id))

	if err := validateActor(actor); err != nil {
		return nil, err
	}
	return s.persist(ctx, id, actor, func(i *models.Identity) (engine.Assessment, error) {
		return s.engine.Score(s.engine.SignalsFor(i))
	})
}

func (s *Service) persist(ctx context.Context, id string, actor audit.Actor, assess func(*models.Identity) (engine.Assessment, error)) (*models.Identity, error) {
	now := requestcontext.Now(ctx)
	var previous int
	var result engine.Assessment
	updated, err := s.store.Mutate(ctx, id, func(i *models.Identity) (*audit.Event, error) {
		a, err := assess(i)
		if err != nil {
			return nil, err
		}
		previous, result = i.RiskScore, a
		ev, err := i.ApplyRiskAssessment(a.Score, a.Tier, a.Breakdown, actor, now)
		if ev != nil {
			ev.RequestID = requestcontext.RequestID(ctx)
		}
		return ev, err
	})
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}

	s.metrics.ObserveAssessment(string(result.Tier), result.Score)
	s.logAudit(ctx, "risk_assessed",
		"identity_id", id,
		"previous_score", previous,
		"new_score", result.Score,
		"trust_tier", result.Tier,
		"actor", actor.String(),
	)
	return updated, nil
}

// UpdateRiskOverride replaces the score by operator decision. The tier still
// follows from the score through the policy's tier mapping.
func (s *Service) UpdateRiskOverride(ctx context.Context, id string, score int, actor audit.Actor) (*models.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "risk.UpdateRiskOverride")
	defer span.End()
	span.SetAttributes(attribute.String("identity.id", id), attribute.Int("risk.score", score))

	tier, err := s.engine.TierFor(score)
	if err != nil {
		return nil, err
	}
	if !actor.IsOperator() {
		return nil, dErrors.New(dErrors.CodeForbidden, "risk override requires an operator")
	}
	now := requestcontext.Now(ctx)

	var previous int
	updated, err := s.store.Mutate(ctx, id, func(i *models.Identity) (*audit.Event, error) {
		previous = i.RiskScore
		ev, err := i.ApplyRiskOverride(score, tier, actor, now)
		if ev != nil {
			ev.RequestID = requestcontext.RequestID(ctx)
		}
		return ev, err
	})
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}

	s.metrics.IncOverride()
	s.logAudit(ctx, "risk_overridden",
		"identity_id", id,
		"previous_score", previous,
		"new_score", score,
		"trust_tier", tier,
		"actor", actor.String(),
	)
	return updated, nil
}

// Breakdown is the risk view of one identity.
type Breakdown struct {
	Identity          *models.Identity
	Breakdown         models.RiskBreakdown
	RecentAssessments []audit.Event
}

// GetRiskBreakdown returns the stored breakdown, or one derived from the
// current state when the identity was never assessed, together with the most
// recent risk events. The record and its history are read concurrently.
func (s *Service) GetRiskBreakdown(ctx context.Context, id string) (*Breakdown, error) {
	var (
		identity *models.Identity
		recent   []audit.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		identity, err = s.store.FindByID(gctx, id)
		return err
	})
	g.Go(func() error {
		for ev, err := range audit.History(gctx, s.store, id, audit.DefaultPageSize) {
			if err != nil {
				return err
			}
			if ev.Action == audit.ActionRiskAssessed {
				recent = append(recent, ev)
				if len(recent) > recentAssessments {
					recent = recent[1:]
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}
	slices.Reverse(recent)
	if recent == nil {
		recent = []audit.Event{}
	}

	out := &Breakdown{Identity: identity, RecentAssessments: recent}
	if identity.Breakdown != nil {
		out.Breakdown = *identity.Breakdown
		return out, nil
	}
	derived, err := s.engine.Score(s.engine.SignalsFor(identity))
	if err != nil {
		return nil, err
	}
	out.Breakdown = derived.Breakdown
	out.Breakdown.Source = models.SourceDerived
	out.Breakdown.AssessedAt = requestcontext.Now(ctx)
	return out, nil
}

func validateActor(actor audit.Actor) error {
	if !actor.Kind.IsValid() || actor.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	return nil
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
