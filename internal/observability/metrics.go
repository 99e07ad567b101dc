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

// Metrics stores Prometheus collectors used by the API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	invoicesAcceptedTotal prometheus.Counter
	invoicesRejectedTotal *prometheus.CounterVec
	submitDuration        prometheus.Histogram
	workerInflight        prometheus.Gauge
	retryScheduledTotal   prometheus.Counter
	publishFailuresTotal  prometheus.Counter
	contingencyTotal      prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pos_invoicing",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		invoicesAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "invoices_accepted_total",
				Help:      "Total number of invoices accepted by the electronic invoicing service.",
			},
		),
		invoicesRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "invoices_rejected_total",
				Help:      "Total number of invoices that ended rejected, by reason.",
			},
			[]string{"reason"},
		),
		submitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pos_invoicing",
				Name:      "sfe_submit_duration_seconds",
				Help:      "Duration of submissions to the electronic invoicing endpoint in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pos_invoicing",
				Name:      "worker_inflight",
				Help:      "Current number of invoice deliveries being processed.",
			},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "retry_scheduled_total",
				Help:      "Total number of invoice submissions scheduled for retry.",
			},
		),
		publishFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "publish_failures_total",
				Help:      "Total number of failed attempts to enqueue an invoice.",
			},
		),
		contingencyTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pos_invoicing",
				Name:      "contingency_recovered_total",
				Help:      "Total number of stranded invoices re-enqueued by the recovery scanner.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.invoicesAcceptedTotal,
		m.invoicesRejectedTotal,
		m.submitDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.publishFailuresTotal,
		m.contingencyTotal,
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

func (m *Metrics) IncInvoiceAccepted() {
	if m == nil {
		return
	}
	m.invoicesAcceptedTotal.Inc()
}

func (m *Metrics) IncInvoiceRejected(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.invoicesRejectedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) ObserveSubmitDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.submitDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailuresTotal.Inc()
}

func (m *Metrics) IncContingencyRecovered() {
	if m == nil {
		return
	}
	m.contingencyTotal.Inc()
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
