// Package policy gates actions on verified identities. The gate augments the
// caller's own verification: when its dependencies fail it allows the request
// and logs the cause instead of blocking traffic.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"canon/internal/identity/models"
	"canon/internal/policy/metrics"
	"canon/internal/policy/ports"
	"canon/pkg/platform/circuit"
	"canon/pkg/platform/sentinel"
	"canon/pkg/requestcontext"
)

// Reasons reported with a decision.
const (
	ReasonNotRequired = "policy_not_required"
	ReasonVerified    = "verified"
	ReasonNoIdentity  = "no_identity"
	ReasonNotVerified = "not_verified"
	ReasonFailOpen    = "fail_open"
)

// Fail-open causes, appended to ReasonFailOpen.
const (
	CauseCircuitOpen    = "circuit_open"
	CauseIdentityLookup = "identity_lookup"
	CausePolicyLookup   = "policy_lookup"
	CauseGroupLookup    = "group_lookup"
)

// Decision is the gate outcome.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Kind returns the reason without its detail suffix, e.g. "not_verified".
func (d Decision) Kind() string {
	kind, _, _ := strings.Cut(d.Reason, ":")
	return kind
}

// Authorize decides on an already loaded identity. A nil identity means none
// exists for the request.
func Authorize(identity *models.Identity, requiresVerification bool) Decision {
	switch {
	case !requiresVerification:
		return Decision{Allowed: true, Reason: ReasonNotRequired}
	case identity == nil:
		return Decision{Allowed: false, Reason: ReasonNoIdentity}
	case identity.VerificationStatus == models.StatusVerified:
		return Decision{Allowed: true, Reason: ReasonVerified}
	default:
		return Decision{Allowed: false, Reason: ReasonNotVerified + ":" + string(identity.VerificationStatus)}
	}
}

func failOpen(cause string) Decision {
	return Decision{Allowed: true, Reason: ReasonFailOpen + ":" + cause}
}

// Gate loads identities and policies and applies Authorize. Infrastructure
// failures allow the request; repeated failures open a breaker so the gate
// stops calling the failing dependency until it recovers.
type Gate struct {
	identities ports.IdentityReader
	policies   ports.PolicyLookup
	groups     ports.GroupResolver
	breaker    *circuit.Breaker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithBreaker replaces the default breaker, e.g. with a test clock.
func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Gate) {
		if b != nil {
			g.breaker = b
		}
	}
}

func NewGate(identities ports.IdentityReader, policies ports.PolicyLookup, groups ports.GroupResolver, opts ...Option) *Gate {
	g := &Gate{
		identities: identities,
		policies:   policies,
		groups:     groups,
		breaker:    circuit.New("policy-gate"),
		logger:     slog.Default(),
		tracer:     otel.Tracer("canon/policy"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides for an identity under an explicit policy flag.
func (g *Gate) Authorize(ctx context.Context, identityID string, requiresVerification bool) Decision {
	ctx, span := g.tracer.Start(ctx, "policy.Authorize")
	defer span.End()

	var d Decision
	switch {
	case !requiresVerification || identityID == "":
		d = Authorize(nil, requiresVerification)
	case !g.breaker.Allow():
		d = g.failOpen(ctx, CauseCircuitOpen, nil, "identity_id", identityID)
	default:
		d = g.decide(ctx, identityID)
	}
	return g.observe(span, d)
}

// AuthorizeActor resolves the actor's grouping, looks up its policy and
// decides for the identity. Actors and groups without a policy are not
// required to present a verified identity.
//
// One decision is one breaker call: Allow is consulted once and the outcome
// of the lookups it admitted is recorded once.
func (g *Gate) AuthorizeActor(ctx context.Context, actorRef, identityID string) Decision {
	ctx, span := g.tracer.Start(ctx, "policy.AuthorizeActor")
	defer span.End()
	span.SetAttributes(attribute.String("policy.actor_ref", actorRef))

	if !g.breaker.Allow() {
		return g.observe(span, g.failOpen(ctx, CauseCircuitOpen, nil, "actor_ref", actorRef))
	}
	requires, failed, ok := g.requiresVerification(ctx, actorRef)
	switch {
	case !ok:
		return g.observe(span, failed)
	case !requires || identityID == "":
		g.recordSuccess(ctx)
		return g.observe(span, Authorize(nil, requires))
	}
	return g.observe(span, g.decide(ctx, identityID))
}

// decide loads the identity once the breaker has admitted the call and
// records the outcome.
func (g *Gate) decide(ctx context.Context, identityID string) Decision {
	identity, err := g.identities.FindByID(ctx, identityID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		g.recordSuccess(ctx)
		return Authorize(nil, true)
	case err != nil:
		g.recordFailure(ctx, err)
		return g.failOpen(ctx, CauseIdentityLookup, err, "identity_id", identityID)
	}
	g.recordSuccess(ctx)
	return Authorize(identity, true)
}

func (g *Gate) observe(span trace.Span, d Decision) Decision {
	span.SetAttributes(attribute.Bool("policy.allowed", d.Allowed), attribute.String("policy.reason", d.Reason))
	g.metrics.ObserveDecision(d.Allowed, d.Kind())
	return d
}

// requiresVerification runs the group and policy lookups. ok is false when a
// lookup failed and failed holds the fail-open decision.
func (g *Gate) requiresVerification(ctx context.Context, actorRef string) (requires bool, failed Decision, ok bool) {
	group, err := g.groups.GroupFor(ctx, actorRef)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return false, Decision{}, true
	case err != nil:
		g.recordFailure(ctx, err)
		return false, g.failOpen(ctx, CauseGroupLookup, err, "actor_ref", actorRef), false
	}

	requires, err = g.policies.RequiresVerification(ctx, group)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return false, Decision{}, true
	case err != nil:
		g.recordFailure(ctx, err)
		return false, g.failOpen(ctx, CausePolicyLookup, err, "group_id", group), false
	}
	return requires, Decision{}, true
}

func (g *Gate) recordSuccess(ctx context.Context) {
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "policy gate recovered", "breaker", g.breaker.Name())
	}
}

func (g *Gate) recordFailure(ctx context.Context, err error) {
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "policy gate breaker opened",
			"breaker", g.breaker.Name(),
			"error", err,
		)
	}
}

func (g *Gate) failOpen(ctx context.Context, cause string, err error, attrs ...any) Decision {
	g.metrics.IncFailOpen(cause)
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"cause", cause,
		"error", err,
	}, attrs...)
	g.logger.WarnContext(ctx, "policy gate failing open", args...)
	return failOpen(cause)
}
