// Package metrics exposes Prometheus collectors for the node manager and its client.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	clientRequestsTotal          *prometheus.CounterVec
	clientRequestDurationSeconds *prometheus.HistogramVec
	firmwareJobsTotal            *prometheus.CounterVec
	jobsActive                   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nocan_http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nocan_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		clientRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nocan_client_requests_total",
				Help: "Total number of outgoing client requests, labeled by host, method and code.",
			},
			[]string{"host", "method", "code"},
		)

		clientRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nocan_client_request_duration_seconds",
				Help:    "Histogram of outgoing client request latencies, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		firmwareJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nocan_firmware_jobs_total",
				Help: "Total number of firmware jobs, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		jobsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nocan_jobs_active",
				Help: "Number of jobs currently held by the job registry.",
			},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL. It returns "unknown"
// if the URL is invalid and "local" for relative URLs.
func SanitizeHost(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	if !u.IsAbs() {
		return "local"
	}
	if u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the served HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveClientRequest records an outgoing request. A zero code means the
// request failed before a response arrived.
func ObserveClientRequest(rawURL, method string, code int, duration time.Duration) {
	Init()
	host := SanitizeHost(rawURL)
	clientRequestsTotal.WithLabelValues(host, method, strconv.Itoa(code)).Inc()
	clientRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveFirmwareJob counts a finished firmware job.
func ObserveFirmwareJob(operation, outcome string) {
	Init()
	firmwareJobsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	jobsActive.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	jobsActive.Dec()
}
