package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "otp_dispatch"

// StatusMapper turns a handler error into the HTTP status the error handler
// will render.
type StatusMapper func(err error) int

// Metrics owns a private registry shared by the HTTP surface, the OTP
// manager, the dispatcher and the queue worker. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	otpIssued        *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	otpCleaned       prometheus.Counter
	sent             *prometheus.CounterVec
	failed           *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	retried          *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec
	queueSettled     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: counterVec("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpDuration: histogramVec("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets, "method", "path"),

		otpIssued: counterVec("otp_issued_total",
			"One-time codes persisted, by purpose.", "purpose"),
		otpVerifications: counterVec("otp_verifications_total",
			"Verify calls by purpose and result.", "purpose", "result"),
		otpCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "otp_cleaned_total",
			Help:      "Expired one-time codes deleted by cleanup.",
		}),

		sent: counterVec("notifications_sent_total",
			"Notifications stored as SENT on first delivery.", "type"),
		failed: counterVec("notifications_failed_total",
			"Notifications stored as FAILED, by failure reason.", "type", "reason"),
		sendDuration: histogramVec("notification_send_duration_seconds",
			"Provider call latency by notification type.", prometheus.ExponentialBuckets(0.01, 2, 12), "type"),
		retried: counterVec("notifications_retried_total",
			"FAILED notifications flipped to SENT by the retry sweep.", "type"),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "worker_inflight",
			Help:      "Queued send requests currently being dispatched, by type.",
		}, []string{"type"}),
		queueSettled: counterVec("queue_messages_total",
			"Queue deliveries by queue and settlement (ack, requeue, dead_letter).", "queue", "settlement"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.otpIssued, m.otpVerifications, m.otpCleaned,
		m.sent, m.failed, m.sendDuration, m.retried,
		m.inFlight, m.queueSettled,
	)
	return m
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records every routed request except /metrics. statusOf maps
// a returned error to the status the error handler will write; nil falls
// back to fiber.Error codes and 500.
func (m *Metrics) HTTPMiddleware(statusOf StatusMapper) fiber.Handler {
	if statusOf == nil {
		statusOf = fiberErrorStatus
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		m.recordHTTPRequest(c.Method(), path, status, time.Since(start))
		return err
	}
}

func (m *Metrics) IncOTPIssued(purpose string) {
	if m == nil {
		return
	}
	m.otpIssued.WithLabelValues(normalizeLabel(purpose)).Inc()
}

func (m *Metrics) IncOTPVerification(purpose string, result string) {
	if m == nil {
		return
	}
	m.otpVerifications.WithLabelValues(normalizeLabel(purpose), normalizeLabel(result)).Inc()
}

func (m *Metrics) AddOTPCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.otpCleaned.Add(float64(n))
}

func (m *Metrics) IncNotificationSent(notificationType string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncNotificationFailed(notificationType string, reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(notificationType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(normalizeLabel(notificationType)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncNotificationRetried(notificationType string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncWorkerInFlight(notificationType string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) DecWorkerInFlight(notificationType string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(normalizeLabel(notificationType)).Dec()
}

func (m *Metrics) IncQueueSettlement(queue string, settlement string) {
	if m == nil {
		return
	}
	m.queueSettled.WithLabelValues(normalizeLabel(queue), normalizeLabel(settlement)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}

	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// routePath uses the registered route pattern so path parameters do not
// explode label cardinality.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func fiberErrorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
