package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Requests         *prometheus.CounterVec
	Findings         *prometheus.CounterVec
	DetectorFailures prometheus.Counter
	Duration         prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg means the default
// registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Anonymize requests by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Replaced PII occurrences by entity type.",
		}, []string{"entity_type"}),
		DetectorFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_failures_total",
			Help:      "Requests that failed because detection could not complete.",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anonymize_duration_seconds",
			Help:      "End-to-end anonymize latency including detection.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		}),
		gatherer: gatherer,
	}
}

// Outcome labels for Requests.
const (
	OutcomeOK              = "ok"
	OutcomeInvalid         = "invalid"
	OutcomeDetectorFailure = "detector_failure"
	OutcomeError           = "error"
)

// ObserveRequest records one finished anonymize call.
func (m *Metrics) ObserveRequest(strategy, outcome string, took time.Duration) {
	m.Requests.WithLabelValues(strategy, outcome).Inc()
	m.Duration.Observe(took.Seconds())
	if outcome == OutcomeDetectorFailure {
		m.DetectorFailures.Inc()
	}
}

// ObserveFindings adds per-type finding counts.
func (m *Metrics) ObserveFindings(counts map[string]int) {
	for entityType, n := range counts {
		m.Findings.WithLabelValues(entityType).Add(float64(n))
	}
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
