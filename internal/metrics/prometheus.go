// Package metrics exposes Prometheus counters/histograms for the
// facilitator's HTTP surface and verify/settle outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the facilitator registers.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge
	sessionsActive  prometheus.Gauge
	sweeperSettles  *prometheus.CounterVec
}

// New creates and registers the facilitator's Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verify_total",
				Help: "Total number of verify requests",
			},
			[]string{"network", "scheme", "result"},
		),
		settleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settle_total",
				Help: "Total number of settle requests",
			},
			[]string{"network", "scheme", "result"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_active_requests",
				Help: "Number of currently active requests",
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_upto_sessions_active",
				Help: "Number of Upto sessions in the sweeper's store, whatever their status",
			},
		),
		sweeperSettles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_upto_sweeper_settles_total",
				Help: "Total number of sweeper-triggered Upto settlements, by trigger",
			},
			[]string{"trigger", "result"},
		),
	}

	prometheus.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.verifyTotal,
		m.settleTotal,
		m.activeRequests,
		m.sessionsActive,
		m.sweeperSettles,
	)

	return m
}

// Middleware records per-request counters and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.requestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}

// RecordVerify records a verify outcome.
func (m *Metrics) RecordVerify(network, scheme string, success bool) {
	m.verifyTotal.WithLabelValues(network, scheme, resultLabel(success)).Inc()
}

// RecordSettle records a settle outcome.
func (m *Metrics) RecordSettle(network, scheme string, success bool) {
	m.settleTotal.WithLabelValues(network, scheme, resultLabel(success)).Inc()
}

// SetActiveSessions reports the number of sessions in the sweeper's store.
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordSweeperSettle records a sweeper-triggered settlement outcome
// for the given trigger ("idle_timeout", "deadline_buffer",
// "cap_threshold", "auto_close").
func (m *Metrics) RecordSweeperSettle(trigger string, success bool) {
	m.sweeperSettles.WithLabelValues(trigger, resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler serves the Prometheus exposition format at /metrics.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
