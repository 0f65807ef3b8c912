package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"canon/internal/audit"
	"canon/internal/identity/metrics"
	"canon/internal/identity/models"
	"canon/internal/identity/store"
	dErrors "canon/pkg/domain-errors"
	"canon/pkg/platform/sentinel"
	"canon/pkg/requestcontext"
)

// Resolve finds the canonical identity for the supplied evidence, linking the
// actor reference, or creates one when no fingerprint matches.
//
// Concurrent calls with identical evidence and actor share one resolution;
// only the caller that led it reports isNew. Calls with the same evidence and
// different actors serialize on the evidence lock, and the store's unique
// evidence indexes are the final guard against duplicate identities.
func (s *Service) Resolve(ctx context.Context, req models.ResolveRequest) (*models.ResolveResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Resolve")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveResolveLatency(time.Since(start)) }()

	if err := req.Validate(); err != nil {
		s.metrics.IncResolution(metrics.OutcomeInvalid)
		return nil, err
	}
	evidence := req.Evidence

	key := collapseKey(evidence, req.ActorRef, req.Actor)
	led := false
	ch := s.inflight.DoChan(key, func() (any, error) {
		led = true
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return s.resolve(sharedCtx, evidence, req.ActorRef, req.Actor)
	})

	var res *models.ResolveResult
	select {
	case out := <-ch:
		if out.Err != nil {
			err := store.ToDomainError(out.Err, "identity not found")
			s.metrics.IncResolution(metrics.OutcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
			s.logger.ErrorContext(ctx, "identity resolution failed", "error", out.Err)
			return nil, err
		}
		shared := out.Val.(*models.ResolveResult)
		copied := *shared
		copied.Identity = shared.Identity.Clone()
		if out.Shared && !led {
			s.metrics.IncCollapsed()
		}
		if shared.IsNew && !led {
			// A follower sees the leader's creation as a match on its own evidence.
			copied.IsNew = false
			copied.MatchedOn, copied.Confidence = models.MatchedFields(shared.Identity.Fingerprints, evidence, s.weights)
		}
		res = &copied
	case <-ctx.Done():
		return nil, store.ToDomainError(ctx.Err(), "identity not found")
	}

	span.SetAttributes(
		attribute.String("identity.id", res.Identity.ID),
		attribute.Bool("identity.is_new", res.IsNew),
		attribute.StringSlice("identity.matched_on", res.MatchedOn),
	)
	return res, nil
}

// collapseKey identifies resolutions that may share one in-flight result. The
// evidence hash has a fixed width and actorRef is length-prefixed, so no choice
// of actor text can make two different requests collide.
func collapseKey(evidence models.Fingerprints, actorRef string, actor audit.Actor) string {
	return fmt.Sprintf("%s|%d:%s|%s", evidence.CanonicalKey(), len(actorRef), actorRef, actor)
}

func (s *Service) resolve(ctx context.Context, evidence models.Fingerprints, actorRef string, actor audit.Actor) (*models.ResolveResult, error) {
	release, err := s.locker.Acquire(ctx, evidence.CanonicalKey())
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for range resolveAttempts {
		res, err := s.resolveOnce(ctx, evidence, actorRef, actor)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, err
		}
		s.metrics.IncCreationConflict()
		s.logger.WarnContext(ctx, "identity creation conflicted, retrying", "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) resolveOnce(ctx context.Context, evidence models.Fingerprints, actorRef string, actor audit.Actor) (*models.ResolveResult, error) {
	now := requestcontext.Now(ctx)

	match, matchedOn, confidence, err := s.lookup(ctx, evidence)
	if err != nil {
		return nil, err
	}
	if match != nil {
		linked := false
		updated, err := s.store.Mutate(ctx, match.ID, func(i *models.Identity) (*audit.Event, error) {
			ev := withRequest(ctx, i.ApplyLink(actorRef, evidence.DeviceFingerprint, actor, now))
			linked = ev != nil
			return ev, nil
		})
		if err != nil {
			return nil, err
		}
		if linked {
			s.metrics.IncResolution(metrics.OutcomeLinked)
			s.logAudit(ctx, "identity_linked",
				"identity_id", updated.ID,
				"actor_ref", actorRef,
				"matched_on", matchedOn,
			)
		} else {
			s.metrics.IncResolution(metrics.OutcomeMatched)
		}
		return &models.ResolveResult{Identity: updated, MatchedOn: matchedOn, Confidence: confidence}, nil
	}

	id, err := s.mintID(ctx, now)
	if err != nil {
		return nil, err
	}
	identity, ev, err := models.NewIdentity(id, evidence, actorRef, actor, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, identity, withRequest(ctx, ev)); err != nil {
		return nil, err
	}
	s.metrics.IncResolution(metrics.OutcomeCreated)
	s.logAudit(ctx, "identity_created",
		"identity_id", identity.ID,
		"actor_ref", actorRef,
	)
	return &models.ResolveResult{Identity: identity, IsNew: true, MatchedOn: []string{}, Confidence: 0}, nil
}

// lookup tries each supplied fingerprint in priority order; the first identity
// found wins. matchedOn lists every supplied field that identity shares.
func (s *Service) lookup(ctx context.Context, evidence models.Fingerprints) (*models.Identity, []string, float64, error) {
	for _, field := range models.MatchPriority {
		value := evidence.Get(field)
		if value == "" {
			continue
		}
		found, err := s.store.FindByFingerprint(ctx, field, value)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, 0, err
		}
		matched, confidence := models.MatchedFields(found.Fingerprints, evidence, s.weights)
		return found, matched, confidence, nil
	}

	if s.matcher == nil || evidence.FaceEmbeddingID == "" {
		return nil, nil, 0, nil
	}
	id, ok, err := s.matcher.Match(ctx, evidence.FaceEmbeddingID)
	if err != nil {
		return nil, nil, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "biometric matcher unavailable")
	}
	if !ok {
		return nil, nil, 0, nil
	}
	found, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "biometric matcher returned unknown identity", "identity_id", id)
		return nil, nil, 0, nil
	}
	if err != nil {
		return nil, nil, 0, err
	}
	return found, []string{string(models.FieldFaceEmbeddingID)}, s.weights.FaceEmbeddingID, nil
}

// mintID generates identifiers until one is unused. The store's primary key
// still rejects a collision that slips between the check and the insert.
func (s *Service) mintID(ctx context.Context, now time.Time) (string, error) {
	for range idAttempts {
		id := s.newID(now)
		exists, err := s.store.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: could not mint an unused identity id", sentinel.ErrConflict)
}
