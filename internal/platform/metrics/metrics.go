// Package metrics exposes Prometheus HTTP and domain metrics for the care
// server. Every collector lives on a private registry so tests can create
// independent instances.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "care"

// Metrics is nil-safe: every recording method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeRequests prometheus.Gauge

	discharges      *prometheus.CounterVec
	consultations   prometheus.Counter
	consentsCreated *prometheus.CounterVec
	facilityCache   *prometheus.CounterVec
	summaryJobs     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served.",
		}),
		discharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discharges_total",
			Help:      "Patients discharged, by discharge reason.",
		}, []string{"reason"}),
		consultations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultations_created_total",
			Help:      "Consultations created.",
		}),
		consentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consents_created_total",
			Help:      "Patient consents created, by consent type.",
		}, []string{"type"}),
		facilityCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accessible_facility_cache_total",
			Help:      "Accessible facility lookups by cache result (hit, miss, error).",
		}, []string{"result"}),
		summaryJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discharge_summary_jobs_total",
			Help:      "Discharge summary email jobs by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.activeRequests,
		m.discharges, m.consultations, m.consentsCreated,
		m.facilityCache, m.summaryJobs,
	)
	return m
}

// Registry is exposed for tests and for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request count, latency and in-flight requests. Routes
// are labelled with the echo path pattern so ids never become labels.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			m.activeRequests.Dec()
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			m.requests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) Discharged(reason string) {
	if m == nil {
		return
	}
	m.discharges.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConsultationCreated() {
	if m == nil {
		return
	}
	m.consultations.Inc()
}

func (m *Metrics) ConsentCreated(consentType string) {
	if m == nil {
		return
	}
	m.consentsCreated.WithLabelValues(consentType).Inc()
}

// FacilityCache records "hit", "miss" or "error".
func (m *Metrics) FacilityCache(result string) {
	if m == nil {
		return
	}
	m.facilityCache.WithLabelValues(result).Inc()
}

// SummaryJob records "sent", "failed" or "dropped".
func (m *Metrics) SummaryJob(outcome string) {
	if m == nil {
		return
	}
	m.summaryJobs.WithLabelValues(outcome).Inc()
}
