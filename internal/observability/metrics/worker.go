package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobStatus is the outcome of one cleanup job.
type JobStatus string

const (
	JobDeleted JobStatus = "deleted"
	// JobSkipped covers protected and foreign objects, which are never retried.
	JobSkipped JobStatus = "skipped"
	JobFailed  JobStatus = "error"
)

// WorkerMetrics instruments the cleanup worker. Every series carries the
// service label given to NewWorkerMetrics.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	lag      prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	m := &WorkerMetrics{
		registry: registry,
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cleanup_jobs_total",
			Help:      "Cleanup jobs handled by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cleanup_job_duration_seconds",
			Help:      "Cleanup job duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cleanup_jobs_in_flight",
			Help:      "Number of in-flight cleanup jobs.",
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between the cleanup request and the job start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
	}

	prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry).
		MustRegister(m.jobs, m.duration, m.inFlight, m.lag)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartJob marks a job in flight. The returned func records its outcome and
// must be called exactly once.
func (m *WorkerMetrics) StartJob() func(JobStatus) {
	start := time.Now()
	m.inFlight.Inc()
	return func(status JobStatus) {
		m.inFlight.Dec()
		m.jobs.WithLabelValues(string(status)).Inc()
		m.duration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	}
}

// ObserveQueueLag ignores negative lags caused by clock skew between
// publisher and worker.
func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.lag.Observe(lag.Seconds())
}
