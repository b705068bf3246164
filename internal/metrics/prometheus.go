package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection pool metrics
	connectionsTotal   *prometheus.CounterVec
	connectionsActive  *prometheus.GaugeVec
	connectionsReused  *prometheus.CounterVec
	connectionsEvicted *prometheus.CounterVec
	rateLimitWait      *prometheus.HistogramVec

	// Listener metrics
	listenersActive  prometheus.Gauge
	listenerFailures *prometheus.CounterVec
	messagesObserved *prometheus.CounterVec

	// Event and delivery metrics
	eventsCaptured  prometheus.Counter
	webhookAttempts *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_imap_connections_total",
			Help: "Total number of IMAP connections opened.",
		}, []string{"provider"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nolas_imap_connections_active",
			Help: "Number of currently pooled IMAP connections.",
		}, []string{"provider"}),
		connectionsReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_imap_connections_reused_total",
			Help: "Total number of pool hits that reused a live connection.",
		}, []string{"provider"}),
		connectionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_imap_connections_evicted_total",
			Help: "Total number of dead connections evicted from the pool.",
		}, []string{"provider"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nolas_imap_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-provider rate limiter.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"provider"}),

		listenersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nolas_listeners_active",
			Help: "Number of currently running folder listeners.",
		}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_listener_failures_total",
			Help: "Total number of listener loop failures.",
		}, []string{"provider"}),
		messagesObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_messages_observed_total",
			Help: "Total number of new messages observed across folders.",
		}, []string{"provider"}),

		eventsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nolas_events_captured_total",
			Help: "Total number of events durably captured for delivery.",
		}),
		webhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nolas_webhook_attempts_total",
			Help: "Total number of webhook delivery attempts.",
		}, []string{"result"}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.connectionsReused,
		c.connectionsEvicted,
		c.rateLimitWait,
		c.listenersActive,
		c.listenerFailures,
		c.messagesObserved,
		c.eventsCaptured,
		c.webhookAttempts,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(provider string) {
	c.connectionsTotal.WithLabelValues(provider).Inc()
	c.connectionsActive.WithLabelValues(provider).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(provider string) {
	c.connectionsActive.WithLabelValues(provider).Dec()
}

// ConnectionReused increments the pool hit counter.
func (c *PrometheusCollector) ConnectionReused(provider string) {
	c.connectionsReused.WithLabelValues(provider).Inc()
}

// ConnectionEvicted increments the eviction counter.
func (c *PrometheusCollector) ConnectionEvicted(provider string) {
	c.connectionsEvicted.WithLabelValues(provider).Inc()
}

// RateLimitWaited observes time spent blocked on the rate limiter.
func (c *PrometheusCollector) RateLimitWaited(provider string, waited time.Duration) {
	c.rateLimitWait.WithLabelValues(provider).Observe(waited.Seconds())
}

// ListenerStarted increments the active listeners gauge.
func (c *PrometheusCollector) ListenerStarted() {
	c.listenersActive.Inc()
}

// ListenerStopped decrements the active listeners gauge.
func (c *PrometheusCollector) ListenerStopped() {
	c.listenersActive.Dec()
}

// ListenerFailure increments the listener failure counter.
func (c *PrometheusCollector) ListenerFailure(provider string) {
	c.listenerFailures.WithLabelValues(provider).Inc()
}

// MessageObserved increments the observed message counter.
func (c *PrometheusCollector) MessageObserved(provider string) {
	c.messagesObserved.WithLabelValues(provider).Inc()
}

// EventCaptured increments the captured event counter.
func (c *PrometheusCollector) EventCaptured() {
	c.eventsCaptured.Inc()
}

// WebhookAttempt increments the delivery attempt counter.
func (c *PrometheusCollector) WebhookAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.webhookAttempts.WithLabelValues(result).Inc()
}
