package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for gate decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
	FailOpen  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_policy_decisions_total",
			Help: "Gate decisions by outcome and reason kind",
		}, []string{"allowed", "reason"}),
		FailOpen: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_policy_fail_open_total",
			Help: "Requests allowed because a dependency failed, by cause",
		}, []string{"cause"}),
	}
}

// ObserveDecision records a decision. reason is the reason kind without any
// status suffix so label cardinality stays fixed.
func (m *Metrics) ObserveDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	m.Decisions.WithLabelValues(label, reason).Inc()
}

func (m *Metrics) IncFailOpen(cause string) {
	if m != nil {
		m.FailOpen.WithLabelValues(cause).Inc()
	}
}
