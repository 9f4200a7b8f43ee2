package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels shared by every collector.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() prometheus.Labels {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "tenantbill"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// Outcome labels for webhook and gateway counters.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
	OutcomeSuccess   = "success"
)

// Metrics exposes application-level billing instruments.
type Metrics struct {
	webhookEvents      *prometheus.CounterVec
	gatewayCalls       *prometheus.CounterVec
	gatewayLatency     *prometheus.HistogramVec
	notifications      *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	invoicesGenerated  prometheus.Counter
	usageSummariesRows prometheus.Counter
}

// New registers the billing instruments on the default registerer.
func New(cfg Config) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, cfg)
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbill_webhook_events_total",
			Help:        "Gateway webhook deliveries by event type and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbill_gateway_calls_total",
			Help:        "Outbound payment gateway calls by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tenantbill_gateway_call_duration_seconds",
			Help:        "Outbound payment gateway call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"provider", "operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbill_notifications_total",
			Help:        "Notification jobs by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbill_subscription_transitions_total",
			Help:        "Subscription status transitions by source.",
			ConstLabels: constLabels,
		}, []string{"from", "to", "source"}),
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tenantbill_invoices_generated_total",
			Help:        "Draft invoices generated by the billing scheduler.",
			ConstLabels: constLabels,
		}),
		usageSummariesRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tenantbill_usage_summaries_written_total",
			Help:        "Usage summary rows written by aggregation.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.webhookEvents,
		m.gatewayCalls,
		m.gatewayLatency,
		m.notifications,
		m.statusTransitions,
		m.invoicesGenerated,
		m.usageSummariesRows,
	)
	return m
}

// RecordWebhookEvent counts one webhook delivery.
func (m *Metrics) RecordWebhookEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(strings.TrimSpace(provider), normalizeEventType(eventType), outcome).Inc()
}

// RecordGatewayCall counts one outbound gateway call and its latency.
func (m *Metrics) RecordGatewayCall(provider, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailed
	}
	m.gatewayCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// RecordNotification counts one notification delivery attempt.
func (m *Metrics) RecordNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

// RecordStatusTransition counts one subscription status change.
func (m *Metrics) RecordStatusTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to, source).Inc()
}

// AddInvoicesGenerated adds to the generated invoice counter.
func (m *Metrics) AddInvoicesGenerated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invoicesGenerated.Add(float64(count))
}

// AddUsageSummaries adds to the usage summary counter.
func (m *Metrics) AddUsageSummaries(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.usageSummariesRows.Add(float64(count))
}

var knownEventTypes = map[string]struct{}{
	"customer.subscription.created": {},
	"customer.subscription.updated": {},
	"customer.subscription.deleted": {},
	"invoice.created":               {},
	"invoice.paid":                  {},
	"invoice.payment_failed":        {},
	"payment_intent.succeeded":      {},
	"payment_intent.payment_failed": {},
}

// Gateways may send arbitrary event types; unknown ones share a label.
func normalizeEventType(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if _, ok := knownEventTypes[eventType]; ok {
		return eventType
	}
	return "other"
}

// HTTPMetrics records inbound HTTP request counts and latency.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on the default registerer.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	constLabels := cfg.constLabels()
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbill_http_requests_total",
			Help:        "Inbound HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tenantbill_http_request_duration_seconds",
			Help:        "Inbound HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}
	registerer.MustRegister(m.requests, m.duration)
	return m
}

// GinMiddleware records metrics for every request using the matched route template.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
