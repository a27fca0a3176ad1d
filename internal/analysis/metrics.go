package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the orchestrator. All metrics are optional; a nil
// *Metrics disables instrumentation.
type Metrics struct {
	submissions *prometheus.CounterVec
	executions  *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics registers the orchestrator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonalcore",
			Subsystem: "analysis",
			Name:      "submissions_total",
			Help:      "Job submissions by outcome.",
		}, []string{"outcome"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zonalcore",
			Subsystem: "analysis",
			Name:      "executions_total",
			Help:      "Completed job executions by terminal status.",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zonalcore",
			Subsystem: "analysis",
			Name:      "execution_seconds",
			Help:      "Wall-clock duration of job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) execution(status Status, seconds float64) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(status)).Inc()
	m.duration.Observe(seconds)
}
