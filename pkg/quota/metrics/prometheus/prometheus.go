package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// Metrics implements quota.Metrics using Prometheus.
type Metrics struct {
	incrementsTotal            *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	unlockTotal                *prometheus.CounterVec
	upstreamDuration           *prometheus.HistogramVec
	upstreamTotal              *prometheus.CounterVec
	extractionTotal            *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		incrementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_counter_increments_total",
			Help:      "Total number of daily counter increments.",
		}, []string{"kind", "over_limit"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		unlockTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Total number of unlock attempts by outcome.",
		}, []string{"outcome"}),

		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"provider"}),

		upstreamTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream completion calls.",
		}, []string{"provider", "success"}),

		extractionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_total",
			Help:      "Total number of model replies normalized, by shape and outcome.",
		}, []string{"shape", "outcome"}),
	}
}

func (m *Metrics) RecordIncrement(kind quota.Kind, overLimit bool) {
	m.incrementsTotal.WithLabelValues(string(kind), strconv.FormatBool(overLimit)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordUnlock(outcome string) {
	m.unlockTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUpstreamCall(provider string, duration time.Duration, err error) {
	m.upstreamDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.upstreamTotal.WithLabelValues(provider, strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) RecordExtraction(shape, outcome string) {
	m.extractionTotal.WithLabelValues(shape, outcome).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
