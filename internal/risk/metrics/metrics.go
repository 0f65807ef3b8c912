package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for risk scoring.
type Metrics struct {
	Assessments *prometheus.CounterVec
	Overrides   prometheus.Counter
	Scores      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Assessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_risk_assessments_total",
			Help: "Persisted risk assessments by resulting trust tier",
		}, []string{"tier"}),
		Overrides: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canon_risk_overrides_total",
			Help: "Operator risk score overrides",
		}),
		Scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "canon_risk_score",
			Help:    "Distribution of persisted risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
	}
}

func (m *Metrics) ObserveAssessment(tier string, score int) {
	if m != nil {
		m.Assessments.WithLabelValues(tier).Inc()
		m.Scores.Observe(float64(score))
	}
}

func (m *Metrics) IncOverride() {
	if m != nil {
		m.Overrides.Inc()
	}
}
