package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "smartenergy"
)

var (
	// Wizard Metrics
	WizardStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wizard",
		Name:      "steps_total",
		Help:      "Count of wizard step executions by result.",
	}, []string{"vendor", "step", "result"})

	WizardStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "wizard",
		Name:      "step_duration_seconds",
		Help:      "Time taken to run a wizard step, including vendor calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"vendor", "step"})

	WizardSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wizard",
		Name:      "sessions_total",
		Help:      "Count of wizard session lifecycle events (created, completed, abandoned).",
	}, []string{"vendor", "event"})

	WizardSessionsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wizard",
		Name:      "sessions_purged_total",
		Help:      "Count of expired wizard sessions removed from the store.",
	})

	// Provider Metrics
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Count of vendor API requests by result.",
	}, []string{"vendor", "operation", "result"})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Time taken for vendor API requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"vendor", "operation"})

	ProviderAdapterCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "adapter_cache_total",
		Help:      "Count of adapter cache lookups (hit, miss).",
	}, []string{"vendor", "result"})
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result returns the "ok"/"error" label for err.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
