// Package middleware holds the Prometheus adapter for ports.MetricsCollector.
// It is shared by the orchestrator and the LLM metrics middleware.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-crowdcheck/internal/ports"
)

const namespace = "crowdcheck"

// Metric names understood by PrometheusMetrics. Anything else lands in the
// generic operations counter or state gauge.
const (
	MetricValidations       = "validations_total"
	MetricSignalUnavailable = "signal_unavailable_total"
	MetricBlendedConfidence = "blended_confidence"
	MetricValidationLatency = "validation_duration_seconds"

	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
	MetricLLMLatency  = "llm_latency_seconds"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements ports.MetricsCollector on a Prometheus
// registerer.
type PrometheusMetrics struct {
	validations       *prometheus.CounterVec
	signalUnavailable *prometheus.CounterVec
	blendedConfidence *prometheus.HistogramVec
	latency           *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec

	operations *prometheus.CounterVec
	state      *prometheus.GaugeVec
}

// NewPrometheusMetrics registers every metric with reg. Passing nil uses
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry()
// so repeated construction does not panic.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricValidations,
			Help:      "Validated answers by question kind, validity and review flag.",
		}, []string{"kind", "valid", "flagged"}),
		signalUnavailable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSignalUnavailable,
			Help:      "Validation layers that produced no signal.",
		}, []string{"layer"}),
		blendedConfidence: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricBlendedConfidence,
			Help:      "Blended 0-100 confidence of validated answers.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"kind"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricValidationLatency,
			Help:      "Wall time of validation operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricLLMRequests,
			Help:      "LLM requests by provider, model and outcome.",
		}, []string{"provider", "model", "status"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricLLMTokens,
			Help:      "Tokens exchanged with LLM providers.",
		}, []string{"provider", "model", "token_type"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricLLMLatency,
			Help:      "LLM request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider", "model", "status"}),

		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Counters without a dedicated metric.",
		}, []string{"metric"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Gauges without a dedicated metric.",
		}, []string{"metric"}),
	}
}

// RecordLatency observes duration under the operation label.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter adds value to the named counter.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricValidations:
		pm.validations.WithLabelValues(
			label(labels, "kind"), label(labels, "valid"), label(labels, "flagged"),
		).Add(value)
	case MetricSignalUnavailable:
		pm.signalUnavailable.WithLabelValues(label(labels, "layer")).Add(value)
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "token_type"),
		).Add(value)
	default:
		pm.operations.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets a generic state gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.state.WithLabelValues(metric).Set(value)
}

// RecordHistogram observes value in the named histogram. Unknown names are
// treated as latencies in seconds.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricBlendedConfidence:
		pm.blendedConfidence.WithLabelValues(label(labels, "kind")).Observe(value)
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Observe(value)
	default:
		pm.latency.WithLabelValues(metric).Observe(value)
	}
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}
