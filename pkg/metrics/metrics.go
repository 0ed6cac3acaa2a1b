package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so packages can take one
// optionally.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Rule engine metrics
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	CommissionsCreated *prometheus.CounterVec
	CommissionAmount   prometheus.Counter
	CircleSwitches     prometheus.Counter
	ConditionErrors    prometheus.Counter

	// Delivery metrics
	PublishFailures *prometheus.CounterVec

	// Graph audit
	UnreachableCircles *prometheus.GaugeVec
}

// New creates a new Metrics instance with all metrics registered on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Rule engine metrics
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_evaluations_total",
				Help: "Total number of trigger events evaluated",
			},
			[]string{"trigger", "outcome"}, // COMMISSION_CREATED, CIRCLE_SWITCHED, NO_MATCH, duplicate, invalid, error
		),
		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rule_evaluation_duration_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"trigger"},
		),
		CommissionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commissions_created_total",
				Help: "Total number of commissions created",
			},
			[]string{"conversion_type"},
		),
		CommissionAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "commission_amount_minor_total",
			Help: "Sum of created commission amounts in minor currency units",
		}),
		CircleSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "circle_switches_total",
			Help: "Total number of promoter circle switches",
		}),
		ConditionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rule_condition_errors_total",
			Help: "Functions skipped because a condition violated its contract",
		}),

		PublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_event_publish_failures_total",
				Help: "Domain events that could not be delivered",
			},
			[]string{"sink"}, // redis, kafka, webhook
		),

		UnreachableCircles: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circle_graph_unreachable",
				Help: "Circles not reachable from the program's default circle",
			},
			[]string{"program"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/programs/:program_id/commissions

			if req.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(req.Method, path).Observe(float64(req.ContentLength))
			}

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// ObserveEvaluation records one evaluation and its latency
func (m *Metrics) ObserveEvaluation(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(trigger, outcome).Inc()
	m.EvaluationDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// CommissionCreated counts a new commission and its amount in minor units
func (m *Metrics) CommissionCreated(conversionType string, amountMinor int64) {
	if m == nil {
		return
	}
	m.CommissionsCreated.WithLabelValues(conversionType).Inc()
	if amountMinor > 0 {
		m.CommissionAmount.Add(float64(amountMinor))
	}
}

// CircleSwitched increments the circle switch counter
func (m *Metrics) CircleSwitched() {
	if m == nil {
		return
	}
	m.CircleSwitches.Inc()
}

// ConditionError increments the invalid condition counter
func (m *Metrics) ConditionError() {
	if m == nil {
		return
	}
	m.ConditionErrors.Inc()
}

// PublishFailure counts a failed delivery to sink
func (m *Metrics) PublishFailure(sink string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(sink).Inc()
}

// SetUnreachable records the number of unreachable circles of a program
func (m *Metrics) SetUnreachable(programID string, n int) {
	if m == nil {
		return
	}
	m.UnreachableCircles.WithLabelValues(programID).Set(float64(n))
}
