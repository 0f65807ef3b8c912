package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks relay throughput.
type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canon_audit_outbox_published_total",
			Help: "Audit events published from the outbox to Kafka",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "canon_audit_outbox_batch_failures_total",
			Help: "Outbox batches that failed to publish and will be retried",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m != nil && n > 0 {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) IncFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}
