package service

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/attribute"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/internal/identity/store"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/requestcontext"
)

const notFoundMsg = "identity not found"

func (s *Service) GetStatus(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}
	return identity, nil
}

// UpdateStatus applies an authorized verification status change.
func (s *Service) UpdateStatus(ctx context.Context, id string, next models.VerificationStatus, actor audit.Actor) (*models.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("identity.id", id), attribute.String("identity.status", string(next)))

	if !next.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidStatus, "invalid verification status")
	}
	if !actor.Kind.IsValid() || actor.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	now := requestcontext.Now(ctx)

	var previous models.VerificationStatus
	updated, err := s.store.Mutate(ctx, id, func(i *models.Identity) (*audit.Event, error) {
		previous = i.VerificationStatus
		ev, err := i.ApplyStatusTransition(next, actor, now)
		return withRequest(ctx, ev), err
	})
	if err != nil {
		span.RecordError(err)
		return nil, store.ToDomainError(err, notFoundMsg)
	}

	s.metrics.IncStatusTransition(string(next))
	s.logAudit(ctx, "identity_status_changed",
		"identity_id", id,
		"previous_status", previous,
		"new_status", next,
		"actor", actor.String(),
	)
	return updated, nil
}

// GetHistory returns one page of history after the given sequence number.
func (s *Service) GetHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error) {
	if afterSeq < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "after must not be negative")
	}
	if limit <= 0 {
		limit = audit.DefaultPageSize
	}
	limit = min(limit, models.MaxSearchLimit)
	events, err := s.store.ListHistory(ctx, id, afterSeq, limit)
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

// History walks the full history of an identity lazily, one page at a time.
func (s *Service) History(ctx context.Context, id string) iter.Seq2[audit.Event, error] {
	return func(yield func(audit.Event, error) bool) {
		for ev, err := range audit.History(ctx, s.store, id, audit.DefaultPageSize) {
			if err != nil {
				yield(audit.Event{}, store.ToDomainError(err, notFoundMsg))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Service) Search(ctx context.Context, filter models.SearchFilter) ([]*models.Identity, error) {
	if err := validateScoreBound(filter.MinScore, "minScore"); err != nil {
		return nil, err
	}
	if err := validateScoreBound(filter.MaxScore, "maxScore"); err != nil {
		return nil, err
	}
	if filter.MinScore != nil && filter.MaxScore != nil && *filter.MinScore > *filter.MaxScore {
		return nil, dErrors.New(dErrors.CodeValidation, "minScore must not exceed maxScore")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidStatus, "invalid verification status")
	}
	if filter.Tier != "" && !filter.Tier.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid trust tier")
	}
	out, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}
	return out, nil
}

// ListHighRisk returns identities scoring at or above threshold, riskiest first.
func (s *Service) ListHighRisk(ctx context.Context, threshold, limit int) ([]*models.Identity, error) {
	if threshold < 0 || threshold > 100 {
		return nil, dErrors.New(dErrors.CodeOutOfRange, "threshold must be within [0,100]")
	}
	out, err := s.store.ListHighRisk(ctx, threshold, models.SearchFilter{Limit: limit}.EffectiveLimit())
	if err != nil {
		return nil, store.ToDomainError(err, notFoundMsg)
	}
	return out, nil
}

func validateScoreBound(v *int, name string) error {
	if v != nil && (*v < 0 || *v > 100) {
		return dErrors.New(dErrors.CodeOutOfRange, name+" must be within [0,100]")
	}
	return nil
}
