// Package metrics defines the Prometheus metrics for the Chartline bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec

	// Webhook events by kind (text, image, follow, other)
	WebhookEventsTotal *prometheus.CounterVec

	// Batching
	BatchesFlushedTotal  *prometheus.CounterVec // result: ok, error, discarded
	BatchSize            prometheus.Histogram
	BatchCollectDuration prometheus.Histogram

	// Completion endpoint
	CompletionDuration    prometheus.Histogram
	CompletionErrorsTotal prometheus.Counter

	// Push delivery
	PushQueueDepth    prometheus.Gauge
	PushFailuresTotal prometheus.Counter
	PushDroppedTotal  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartline_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartline_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chartline_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartline_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartline_webhook_events_total",
				Help: "Total number of webhook events by kind",
			},
			[]string{"kind"},
		),
		BatchesFlushedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartline_batches_flushed_total",
				Help: "Total number of image batches by outcome",
			},
			[]string{"result"},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chartline_batch_size_images",
				Help:    "Number of images per flushed batch",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 20},
			},
		),
		BatchCollectDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chartline_batch_collect_duration_seconds",
				Help:    "Time a batch spent collecting before its flush",
				Buckets: []float64{1, 3, 5, 10, 30, 60, 120},
			},
		),
		CompletionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chartline_completion_duration_seconds",
				Help:    "Duration of completion-endpoint calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
		),
		CompletionErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chartline_completion_errors_total",
				Help: "Total number of failed completion-endpoint calls",
			},
		),
		PushQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartline_push_queue_depth",
				Help: "Outbound push messages waiting for delivery",
			},
		),
		PushFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chartline_push_failures_total",
				Help: "Total number of failed push deliveries",
			},
		),
		PushDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chartline_push_dropped_total",
				Help: "Total number of pushes dropped because the queue was full",
			},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize some default metrics
	m.RequestsTotal.WithLabelValues("/healthz", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/metrics", "200").Add(0)
	m.WebhookEventsTotal.WithLabelValues("text").Add(0)
	m.WebhookEventsTotal.WithLabelValues("image").Add(0)

	return m
}

// Registry exposes the underlying registry for components that register
// their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}
