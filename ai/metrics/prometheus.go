// Package metrics provides Prometheus metrics export for the recommendation core.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/mcbagz/ladchat/ai"
	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/ai/recommend"
)

const namespace = "ladchat"

// PrometheusExporter exports recommendation, embedder, index and refresh metrics.
// A nil exporter is valid and records nothing.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Recommendation metrics
	recommendRequests *prometheus.CounterVec
	recommendLatency  *prometheus.HistogramVec
	recommendReturned *prometheus.CounterVec

	// Embedder metrics
	embedderCalls   *prometheus.CounterVec
	embedderLatency *prometheus.HistogramVec

	// Index metrics
	indexFailures *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec

	// Refresh metrics
	refreshEntities *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.recommendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "requests_total",
			Help:      "Total number of recommendation requests",
		},
		[]string{"kind", "status"},
	)

	e.recommendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "latency_seconds",
			Help:      "Recommendation request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.recommendReturned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "items_returned_total",
			Help:      "Total number of recommendations returned",
		},
		[]string{"kind"},
	)

	e.embedderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "calls_total",
			Help:      "Total number of embedder calls",
		},
		[]string{"op", "status"},
	)

	e.embedderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "latency_seconds",
			Help:      "Embedder call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"op"},
	)

	e.indexFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "failures_total",
			Help:      "Total number of absorbed vector index failures",
		},
		[]string{"op"},
	)

	e.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	e.refreshEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "entities_total",
			Help:      "Total number of entities touched by refresh sweeps",
		},
		[]string{"entity_type", "outcome"},
	)

	e.sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "sweep_duration_seconds",
			Help:      "Refresh sweep duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	registry.MustRegister(
		e.recommendRequests,
		e.recommendLatency,
		e.recommendReturned,
		e.embedderCalls,
		e.embedderLatency,
		e.indexFailures,
		e.breakerState,
		e.refreshEntities,
		e.sweepDuration,
	)

	return e
}

// ObserveRecommendation records a recommendation request.
func (e *PrometheusExporter) ObserveRecommendation(kind string, err error, returned int, latency time.Duration) {
	if e == nil {
		return
	}
	e.recommendRequests.WithLabelValues(kind, recommendStatus(err)).Inc()
	e.recommendLatency.WithLabelValues(kind).Observe(latency.Seconds())
	e.recommendReturned.WithLabelValues(kind).Add(float64(returned))
}

// recommendStatus maps the degradation cause to a label value.
func recommendStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, recommend.ErrDomainEntityGone):
		return "entity_gone"
	case errors.Is(err, ai.ErrEmbedderUnavailable), errors.Is(err, recommend.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, embedstore.ErrIndexUnavailable):
		return "index_unavailable"
	default:
		return "error"
	}
}

// ObserveEmbedderCall records an embedder call.
func (e *PrometheusExporter) ObserveEmbedderCall(op string, err error, latency time.Duration) {
	if e == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, gobreaker.ErrOpenState) {
			status = "rejected"
		}
	}
	e.embedderCalls.WithLabelValues(op, status).Inc()
	e.embedderLatency.WithLabelValues(op).Observe(latency.Seconds())
}

// ObserveIndexFailure records an index failure that was absorbed.
func (e *PrometheusExporter) ObserveIndexFailure(op string) {
	if e == nil {
		return
	}
	e.indexFailures.WithLabelValues(op).Inc()
}

// ObserveBreakerState records a circuit breaker transition.
func (e *PrometheusExporter) ObserveBreakerState(name string, _, to gobreaker.State) {
	if e == nil {
		return
	}
	e.breakerState.WithLabelValues(name).Set(float64(to))
}

// ObserveRefreshEntity records one entity handled by a refresh sweep.
func (e *PrometheusExporter) ObserveRefreshEntity(entityType, outcome string) {
	if e == nil {
		return
	}
	e.refreshEntities.WithLabelValues(entityType, outcome).Inc()
}

// ObserveSweep records a finished refresh sweep.
func (e *PrometheusExporter) ObserveSweep(d time.Duration) {
	if e == nil {
		return
	}
	e.sweepDuration.Observe(d.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
