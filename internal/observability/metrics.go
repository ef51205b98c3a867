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

const namespace = "notifier"

// Registration results counted by IncRequestRegistered.
const (
	RegistrationCreated   = "created"
	RegistrationDuplicate = "duplicate"
	RegistrationDenied    = "denied"
	RegistrationRetried   = "retried"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	requestsRegistered   *prometheus.CounterVec
	ruleEvaluations      *prometheus.CounterVec
	recipientsMatched    prometheus.Counter
	deliveriesDispatched prometheus.Counter
	deliveryOutcomes     *prometheus.CounterVec
	sinkSendDuration     *prometheus.HistogramVec
	workerInflight       *prometheus.GaugeVec
	requestsCompleted    *prometheus.CounterVec
	outboxPublished      *prometheus.CounterVec
	requestsPurged       prometheus.Counter
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
		requestsRegistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_registered_total",
				Help:      "Notification requests seen at intake grouped by registration result.",
			},
			[]string{"result"},
		),
		ruleEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_evaluations_total",
				Help:      "Rule predicate evaluations grouped by result.",
			},
			[]string{"result"},
		),
		recipientsMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipients_matched_total",
				Help:      "Recipients added to requests by rule matching or direct addressing.",
			},
		),
		deliveriesDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_dispatched_total",
				Help:      "Delivery jobs handed to the delivery queue.",
			},
		),
		deliveryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_outcomes_total",
				Help:      "Delivery outcomes grouped by sink type, outcome and reason.",
			},
			[]string{"sink", "outcome", "reason"},
		),
		sinkSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_send_duration_seconds",
				Help:      "Sink send duration in seconds grouped by sink type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"sink"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by worker.",
			},
			[]string{"worker"},
		),
		requestsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_completed_total",
				Help:      "Requests that reached COMPLETED grouped by announced status.",
			},
			[]string{"status"},
		),
		outboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_publish_total",
				Help:      "Status event publish attempts from the outbox grouped by result.",
			},
			[]string{"result"},
		),
		requestsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_purged_total",
				Help:      "Completed requests removed by the retention sweep.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.requestsRegistered,
		m.ruleEvaluations,
		m.recipientsMatched,
		m.deliveriesDispatched,
		m.deliveryOutcomes,
		m.sinkSendDuration,
		m.workerInflight,
		m.requestsCompleted,
		m.outboxPublished,
		m.requestsPurged,
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

func (m *Metrics) IncRequestRegistered(result string) {
	if m == nil {
		return
	}
	m.requestsRegistered.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncRuleEvaluation counts one predicate evaluation: match, no_match, error or missing.
func (m *Metrics) IncRuleEvaluation(result string) {
	if m == nil {
		return
	}
	m.ruleEvaluations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) AddRecipientsMatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recipientsMatched.Add(float64(n))
}

func (m *Metrics) AddDeliveriesDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveriesDispatched.Add(float64(n))
}

func (m *Metrics) IncDeliveryOutcome(sink string, outcome string, reason string) {
	if m == nil {
		return
	}
	m.deliveryOutcomes.WithLabelValues(normalizeLabel(sink), normalizeLabel(outcome), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveSinkSendDuration(sink string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sinkSendDuration.WithLabelValues(normalizeLabel(sink)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(worker string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(worker)).Inc()
}

func (m *Metrics) DecWorkerInFlight(worker string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(worker)).Dec()
}

func (m *Metrics) IncRequestCompleted(status string) {
	if m == nil {
		return
	}
	m.requestsCompleted.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncOutboxPublish(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "published"
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) AddRequestsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.requestsPurged.Add(float64(n))
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
