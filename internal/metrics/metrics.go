// Package metrics provides Prometheus collectors for Vidsnag.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analyze outcomes recorded by ObserveAnalyze.
const (
	OutcomeSuccess          = "success"
	OutcomeQuotaExceeded    = "quota_exceeded"
	OutcomeInProgress       = "in_progress"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomeRecordFailed     = "record_failed"
	OutcomeInvalid          = "invalid"
)

// Metrics holds every collector of the service on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	analyzeTotal       *prometheus.CounterVec
	extractorDuration  *prometheus.HistogramVec
	extractorFailures  *prometheus.CounterVec
	quotaRejections    prometheus.Counter
	rateLimited        prometheus.Counter
	activeSessions     prometheus.Gauge
	loginAttemptsTotal *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vidsnag"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		analyzeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyze",
			Name:      "requests_total",
			Help:      "Analyze calls by outcome.",
		}, []string{"outcome"}),
		extractorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "duration_seconds",
			Help:      "Extraction tool run time by result.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		extractorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "failures_total",
			Help:      "Failed extraction runs by reason.",
		}, []string{"reason"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Analyze calls refused because the daily limit was reached.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_minus_destroyed",
			Help:      "Sessions created minus sessions destroyed since start.",
		}),
		loginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.analyzeTotal,
		m.extractorDuration,
		m.extractorFailures,
		m.quotaRejections,
		m.rateLimited,
		m.activeSessions,
		m.loginAttemptsTotal,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveAnalyze records the outcome of one analyze call.
func (m *Metrics) ObserveAnalyze(outcome string) {
	if m == nil {
		return
	}
	m.analyzeTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeQuotaExceeded {
		m.quotaRejections.Inc()
	}
}

// ObserveExtraction records one extraction run. reason is "ok" on success.
func (m *Metrics) ObserveExtraction(d time.Duration, reason string) {
	if m == nil {
		return
	}
	result := "ok"
	if reason != "ok" {
		result = "error"
		m.extractorFailures.WithLabelValues(reason).Inc()
	}
	m.extractorDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveRateLimited records one refused request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ObserveLogin records one login attempt.
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.loginAttemptsTotal.WithLabelValues(result).Inc()
}

// SessionCreated increments the session gauge.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionDestroyed decrements the session gauge.
func (m *Metrics) SessionDestroyed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
