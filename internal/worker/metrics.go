package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	encodeAttempts     *prometheus.HistogramVec
	encodeSeconds      *prometheus.HistogramVec
	budgetFailures     *prometheus.CounterVec
	cacheHitsTotal     prometheus.Counter
	pixelsProcessed    prometheus.Counter
	bytesSavedTotal    prometheus.Counter
	computeTimeMSTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_worker_jobs_total",
			Help: "Total crop jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each crop job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropflow_worker_active_jobs",
			Help: "Current number of crop jobs holding an encode slot.",
		}),
		encodeAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_encoder_attempts",
			Help:    "Encode attempts needed to fit the byte budget, per job.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 98},
		}, []string{"mime_type"}),
		encodeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_encoder_attempt_duration_seconds",
			Help:    "Duration of a single encode attempt.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"mime_type"}),
		budgetFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_encoder_budget_unreachable_total",
			Help: "Jobs whose byte budget could not be met at minimum quality.",
		}, []string{"mime_type"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_worker_artifact_cache_hits_total",
			Help: "Jobs served from the artifact cache.",
		}),
		pixelsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_pixels_processed_total",
			Help: "Total output pixels across successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_bytes_saved_total",
			Help: "Total bytes saved across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.encodeAttempts,
		m.encodeSeconds,
		m.budgetFailures,
		m.cacheHitsTotal,
		m.pixelsProcessed,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
