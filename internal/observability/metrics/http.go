package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pra"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal      *prometheus.CounterVec
	uploadBytes       *prometheus.HistogramVec
	blobDeletesTotal  *prometheus.CounterVec
	cleanupURLsTotal  *prometheus.CounterVec
	analysesTotal     *prometheus.CounterVec
	analysisDuration  *prometheus.HistogramVec
	rateLimitedTotal  *prometheus.CounterVec
	overloadRejection *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "total",
			Help:      "Upload handshake and transfer outcomes by stage.",
		},
		[]string{"service", "stage", "status"},
	)
	uploadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "bytes",
			Help:      "Size of accepted uploads.",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8),
		},
		[]string{"service"},
	)
	blobDeletesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blobs",
			Name:      "deletes_total",
			Help:      "Blob deletions by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	cleanupURLsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blobs",
			Name:      "cleanup_urls_total",
			Help:      "URLs received through the cleanup beacon, by disposition.",
		},
		[]string{"service", "disposition"},
	)
	analysesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by outcome.",
		},
		[]string{"service", "source", "outcome"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "source"},
	)
	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		},
		[]string{"service", "path"},
	)
	overloadRejection := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "overload_rejections_total",
			Help:      "Requests rejected by the backpressure gate.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		uploadBytes,
		blobDeletesTotal,
		cleanupURLsTotal,
		analysesTotal,
		analysisDuration,
		rateLimitedTotal,
		overloadRejection,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		uploadsTotal:      uploadsTotal,
		uploadBytes:       uploadBytes,
		blobDeletesTotal:  blobDeletesTotal,
		cleanupURLsTotal:  cleanupURLsTotal,
		analysesTotal:     analysesTotal,
		analysisDuration:  analysisDuration,
		rateLimitedTotal:  rateLimitedTotal,
		overloadRejection: overloadRejection,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// NormalizePath collapses object names and analysis ids so label
// cardinality stays bounded.
func NormalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/uploads/") && path != "/v1/uploads/authorize":
		return "/v1/uploads/{object}"
	case path == "/v1/blobs/cleanup":
		return path
	case strings.HasPrefix(path, "/v1/blobs/"):
		return "/v1/blobs/{object}"
	case strings.HasPrefix(path, "/v1/analyses/") && strings.HasSuffix(path, "/export.xlsx"):
		return "/v1/analyses/{id}/export.xlsx"
	case strings.HasPrefix(path, "/v1/analyses/"):
		return "/v1/analyses/{id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordUpload(service, stage string, size int64, err error) {
	status := statusOf(err)
	m.uploadsTotal.WithLabelValues(service, stage, status).Inc()
	if err == nil && size > 0 && stage == "transfer" {
		m.uploadBytes.WithLabelValues(service).Observe(float64(size))
	}
}

func (m *HTTPServerMetrics) RecordBlobDelete(service, trigger string, err error) {
	if trigger == "" {
		trigger = "unknown"
	}
	m.blobDeletesTotal.WithLabelValues(service, trigger, statusOf(err)).Inc()
}

func (m *HTTPServerMetrics) RecordCleanupRequest(service string, received, accepted int) {
	if accepted > 0 {
		m.cleanupURLsTotal.WithLabelValues(service, "accepted").Add(float64(accepted))
	}
	if skipped := received - accepted; skipped > 0 {
		m.cleanupURLsTotal.WithLabelValues(service, "skipped").Add(float64(skipped))
	}
}

func (m *HTTPServerMetrics) RecordAnalysis(service, source, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.analysesTotal.WithLabelValues(service, source, outcome).Inc()
	m.analysisDuration.WithLabelValues(service, source).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordRateLimited(service, path string) {
	m.rateLimitedTotal.WithLabelValues(service, NormalizePath(path)).Inc()
}

func (m *HTTPServerMetrics) RecordOverload(service string) {
	m.overloadRejection.WithLabelValues(service).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
