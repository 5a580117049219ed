package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sms_dispatch"

// Metrics stores Prometheus collectors used by the API and background flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	messagesSentTotal      *prometheus.CounterVec
	messageSendDuration    *prometheus.HistogramVec
	deliveryReportsTotal   *prometheus.CounterVec
	clientBuildsTotal      *prometheus.CounterVec
	syncJobsEnqueuedTotal  *prometheus.CounterVec
	pendingStale           prometheus.Gauge
	decryptionFailureTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Send attempts by outcome (sent, failed, timeout, circuit_open, credentials_missing).",
			},
			[]string{"outcome"},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		deliveryReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_reports_total",
				Help:      "Delivery callbacks by reconciliation outcome.",
			},
			[]string{"outcome"},
		),
		clientBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_client_builds_total",
				Help:      "Provider client constructions by result.",
			},
			[]string{"result"},
		),
		syncJobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_jobs_enqueued_total",
				Help:      "External sync jobs enqueued by kind and result.",
			},
			[]string{"kind", "result"},
		),
		pendingStale: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "messages_pending_stale",
				Help:      "Messages still pending past the staleness window at the last scan.",
			},
		),
		decryptionFailureTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secret_decryption_failures_total",
				Help:      "Stored credentials that could not be decrypted with the configured key.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messageSendDuration,
		m.deliveryReportsTotal,
		m.clientBuildsTotal,
		m.syncJobsEnqueuedTotal,
		m.pendingStale,
		m.decryptionFailureTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveSend(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.messagesSentTotal.WithLabelValues(label).Inc()
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.messageSendDuration.WithLabelValues(label).Observe(seconds)
}

func (m *Metrics) IncDeliveryReport(outcome string) {
	if m == nil {
		return
	}
	m.deliveryReportsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncClientBuild(result string) {
	if m == nil {
		return
	}
	m.clientBuildsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncSyncJob(kind string, result string) {
	if m == nil {
		return
	}
	m.syncJobsEnqueuedTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Metrics) SetPendingStale(count int64) {
	if m == nil {
		return
	}
	m.pendingStale.Set(float64(count))
}

func (m *Metrics) IncDecryptionFailure() {
	if m == nil {
		return
	}
	m.decryptionFailureTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
