package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inFlight          prometheus.Gauge
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	fitPreviews       *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_api_requests_total",
			Help: "HTTP requests handled by the api, by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropflow_api_requests_in_flight",
			Help: "Requests currently being served.",
		}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_api_rate_limit_rejections_total",
			Help: "Requests rejected by the per-caller rate limit.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_queue_jobs_enqueued_total",
			Help: "Crop jobs handed to the task queue.",
		}, []string{"queue"}),
		fitPreviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_api_fit_previews_total",
			Help: "Fit previews served, by source classification.",
		}, []string{"classification"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.inFlight,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.fitPreviews,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// routeLabel collapses request paths onto their route patterns so job IDs
// never become label values.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/start"):
		return "/v1/jobs/{id}/start"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case path == "/v1/jobs":
		return "/v1/jobs"
	case path == "/v1/fit":
		return "/v1/fit"
	case path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}
