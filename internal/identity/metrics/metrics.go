package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolve outcomes.
const (
	OutcomeCreated = "created"
	OutcomeLinked  = "linked"
	OutcomeMatched = "matched"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics provides observability for identity resolution and status changes.
type Metrics struct {
	Resolutions       *prometheus.CounterVec
	CreationConflicts prometheus.Counter
	CollapsedResolves prometheus.Counter
	ResolveLatency    prometheus.Histogram
	StatusTransitions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_identity_resolutions_total",
			Help: "Resolve calls by outcome",
		}, []string{"outcome"}),
		CreationConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canon_identity_creation_conflicts_total",
			Help: "Identity creations rejected by a uniqueness constraint and retried",
		}),
		CollapsedResolves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canon_identity_collapsed_resolves_total",
			Help: "Resolve calls that shared an in-flight resolution of identical evidence",
		}),
		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "canon_identity_resolve_duration_seconds",
			Help:    "Duration of Resolve including lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_identity_status_transitions_total",
			Help: "Verification status transitions by target status",
		}, []string{"to"}),
	}
}

func (m *Metrics) IncResolution(outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncCreationConflict() {
	if m != nil {
		m.CreationConflicts.Inc()
	}
}

func (m *Metrics) IncCollapsed() {
	if m != nil {
		m.CollapsedResolves.Inc()
	}
}

func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncStatusTransition(to string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(to).Inc()
	}
}
