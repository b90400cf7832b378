// Package telemetry exposes Prometheus metrics for the HTTP server and the
// scheduling core. All recorders are nil-safe so components can run without
// metrics in tests.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// ---------------------------------------------------------------------------
// HTTP server metrics
// ---------------------------------------------------------------------------

// HTTPMetrics records request duration and in-flight requests per route.
type HTTPMetrics struct {
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.duration, m.active)
	return m
}

// Middleware records every request under its route pattern, not its raw path.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.active.Inc()
			start := time.Now()

			err := next(c)

			m.active.Dec()
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.duration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// ---------------------------------------------------------------------------
// Scheduling metrics
// ---------------------------------------------------------------------------

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// SchedulingMetrics records booking coordinator and slot inventory activity.
type SchedulingMetrics struct {
	operations    *prometheus.CounterVec
	compensations *prometheus.CounterVec
	slots         *prometheus.CounterVec
	events        *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Coordinator operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "compensations_total",
			Help:      "Compensating slot actions by kind.",
		}, []string{"kind"}),
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slots_generated_total",
			Help:      "Slots attempted in batch generation by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "events_published_total",
			Help:      "Scheduling events handed to the notification publisher.",
		}, []string{"event_type", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Latency of coordinator operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.compensations, m.slots, m.events, m.latency)
	return m
}

func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveCompensation counts a slot compensation by kind.
func (m *SchedulingMetrics) ObserveCompensation(kind string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(kind).Inc()
}

func (m *SchedulingMetrics) ObserveSlots(created, failed int) {
	if m == nil {
		return
	}
	m.slots.WithLabelValues("created").Add(float64(created))
	m.slots.WithLabelValues("failed").Add(float64(failed))
}

func (m *SchedulingMetrics) ObserveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	status := "published"
	if err != nil {
		status = "failed"
	}
	m.events.WithLabelValues(eventType, status).Inc()
}
