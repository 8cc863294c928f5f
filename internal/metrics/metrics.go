// Package metrics exposes Prometheus collectors for the docsort service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTriggeredTotal         *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	channelSessions            prometheus.Gauge
	uploadsTotal               *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTriggeredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsort_jobs_triggered_total",
				Help: "Trigger requests, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsort_jobs_total",
				Help: "Total number of jobs processed, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsort_job_duration_seconds",
				Help:    "Histogram of job execution time, labeled by operation.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"operation"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsort_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		channelSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsort_channel_sessions",
				Help: "Number of open progress channel sessions.",
			},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsort_uploads_total",
				Help: "Uploaded files, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTrigger counts a trigger request outcome ("accepted", "not_found",
// "invalid", "unavailable").
func ObserveTrigger(operation, result string) {
	jobsTriggeredTotal.WithLabelValues(operation, result).Inc()
}

// ObserveJob increments the job counter and records how long the job ran.
func ObserveJob(operation, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(operation, status).Inc()
	jobDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SessionOpened increments the progress channel session gauge.
func SessionOpened() {
	channelSessions.Inc()
}

// SessionClosed decrements the progress channel session gauge.
func SessionClosed() {
	channelSessions.Dec()
}

// ObserveUpload counts an upload attempt.
func ObserveUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}
