package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/uploads/authorize":        "/v1/uploads/authorize",
		"/v1/uploads/deed-1.pdf":       "/v1/uploads/{object}",
		"/v1/blobs/cleanup":            "/v1/blobs/cleanup",
		"/v1/blobs/deed-1.pdf":         "/v1/blobs/{object}",
		"/v1/analyses/abc":             "/v1/analyses/{id}",
		"/v1/analyses/abc/export.xlsx": "/v1/analyses/{id}/export.xlsx",
		"/healthz":                     "/healthz",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPServerMetricsExposeDomainSeries(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/blobs/a.pdf", nil))

	m.RecordUpload("api", "transfer", 1024, nil)
	m.RecordBlobDelete("api", "explicit", errors.New("boom"))
	m.RecordCleanupRequest("api", 3, 2)
	m.RecordAnalysis("api", "upload", "completed", time.Second)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pra_http_requests_total{method="DELETE",path="/v1/blobs/{object}",service="api",status="204"} 1`,
		`pra_uploads_total{service="api",stage="transfer",status="success"} 1`,
		`pra_blobs_deletes_total{service="api",status="error",trigger="explicit"} 1`,
		`pra_blobs_cleanup_urls_total{disposition="skipped",service="api"} 1`,
		`pra_analysis_runs_total{outcome="completed",service="api",source="upload"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsCountJobs(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartJob()(JobDeleted)
	finish := m.StartJob()
	m.ObserveQueueLag(-time.Second)
	m.ObserveQueueLag(2 * time.Second)

	body := scrape(t, m.Handler())
	if !strings.Contains(body, `pra_worker_cleanup_jobs_total{service="worker",status="deleted"} 1`) {
		t.Fatalf("missing cleanup job counter:\n%s", body)
	}
	if !strings.Contains(body, `pra_worker_cleanup_jobs_in_flight{service="worker"} 1`) {
		t.Fatalf("expected one job in flight:\n%s", body)
	}
	if !strings.Contains(body, `pra_worker_queue_lag_seconds_count{service="worker"} 1`) {
		t.Fatalf("negative lag must be dropped:\n%s", body)
	}

	finish(JobSkipped)
	body = scrape(t, m.Handler())
	if !strings.Contains(body, `pra_worker_cleanup_jobs_total{service="worker",status="skipped"} 1`) {
		t.Fatalf("missing skipped counter:\n%s", body)
	}
	if !strings.Contains(body, `pra_worker_cleanup_jobs_in_flight{service="worker"} 0`) {
		t.Fatalf("in-flight gauge should be back to zero:\n%s", body)
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(raw)
}
