package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
	"github.com/kirillkom/property-report-analyzer/internal/observability/metrics"
)

const (
	serviceName = "api"

	maxJSONBodyBytes = 64 << 10
	// multipart framing on top of the document itself
	multipartOverheadBytes = 1 << 20
)

type Router struct {
	cfg      config.Config
	uploads  ports.UploadService
	blobs    ports.BlobService
	analyzer ports.DocumentAnalyzer
	analyses ports.AnalysisReader
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	uploads ports.UploadService,
	blobs ports.BlobService,
	analyzer ports.DocumentAnalyzer,
	analyses ports.AnalysisReader,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:      cfg,
		uploads:  uploads,
		blobs:    blobs,
		analyzer: analyzer,
		analyses: analyses,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	limited := func(h http.HandlerFunc) http.Handler { return h }
	if rt.cfg.APIRateLimitRPS > 0 {
		limiter := newClientRateLimiter(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
		if rt.metrics != nil {
			limiter.onLimited = func(r *http.Request) { rt.metrics.RecordRateLimited(serviceName, r.URL.Path) }
		}
		limited = func(h http.HandlerFunc) http.Handler { return limiter.wrap(h) }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.json", rt.openAPI)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.Handle("POST /v1/uploads/authorize", limited(rt.authorizeUpload))
	mux.Handle("PUT /v1/uploads/{object}", limited(rt.uploadObject))

	mux.HandleFunc("HEAD /v1/blobs/{object}", rt.headBlob)
	mux.HandleFunc("GET /v1/blobs/{object}", rt.getBlob)
	mux.HandleFunc("DELETE /v1/blobs", rt.deleteBlob)
	mux.HandleFunc("POST /v1/blobs/cleanup", rt.cleanupBlobs)

	mux.Handle("POST /v1/analyze", limited(rt.analyzeDocument))
	mux.HandleFunc("GET /v1/analyses/{id}", rt.getAnalysis)
	mux.HandleFunc("GET /v1/analyses/{id}/export.xlsx", rt.exportAnalysis)

	var handler http.Handler = mux
	if rt.cfg.APIMaxInFlight > 0 {
		var onReject func()
		if rt.metrics != nil {
			onReject = func() { rt.metrics.RecordOverload(serviceName) }
		}
		handler = newBackpressureGate(rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, onReject).wrap(handler)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, r *http.Request) {
	_, rendered, err := loadOpenAPIDocument(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered)
}

type authorizeUploadRequest struct {
	ObjectName  string `json:"object_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (rt *Router) authorizeUpload(w http.ResponseWriter, r *http.Request) {
	var req authorizeUploadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	auth, err := rt.uploads.Authorize(r.Context(), strings.TrimSpace(req.ObjectName), domain.UploadConstraints{
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	rt.recordUpload("authorize", 0, err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (rt *Router) uploadObject(w http.ResponseWriter, r *http.Request) {
	objectName := r.PathValue("object")

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != domain.PDFMediaType {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only application/pdf uploads are accepted"})
			return
		}
	}

	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}

	info, err := rt.uploads.Accept(r.Context(), token, objectName, r.ContentLength, r.Body)
	size := int64(0)
	if info != nil {
		size = info.Size
	}
	rt.recordUpload("transfer", size, err)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", info.URL)
	writeJSON(w, http.StatusCreated, map[string]string{
		"url":         info.URL,
		"object_name": info.Key,
	})
}

func (rt *Router) headBlob(w http.ResponseWriter, r *http.Request) {
	info, err := rt.blobs.Head(r.Context(), r.PathValue("object"))
	if err != nil {
		w.WriteHeader(mapErrorToHTTPStatus(err))
		return
	}
	setObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) getBlob(w http.ResponseWriter, r *http.Request) {
	objectName := r.PathValue("object")
	info, err := rt.blobs.Head(r.Context(), objectName)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	body, err := rt.blobs.Open(r.Context(), objectName)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer body.Close()

	setObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		rt.logger.Warn("blob_stream_failed", "object", objectName, "error", err)
	}
}

func setObjectHeaders(w http.ResponseWriter, info *domain.ObjectInfo) {
	contentType := info.ContentType
	if contentType == "" {
		contentType = domain.PDFMediaType
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if !info.CreatedAt.IsZero() {
		w.Header().Set("Last-Modified", info.CreatedAt.UTC().Format(http.TimeFormat))
	}
}

func (rt *Router) deleteBlob(w http.ResponseWriter, r *http.Request) {
	blobURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if blobURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'url' is required"})
		return
	}

	err := rt.blobs.Delete(r.Context(), blobURL)
	if rt.metrics != nil {
		rt.metrics.RecordBlobDelete(serviceName, "explicit", err)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cleanupRequest struct {
	URLs      []string `json:"urls"`
	SessionID string   `json:"session_id"`
}

// cleanupBlobs is the beacon target. Deletion happens after the response,
// so the client may already be gone.
func (rt *Router) cleanupBlobs(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	accepted, err := rt.blobs.EnqueueCleanup(context.WithoutCancel(r.Context()), req.URLs)
	if rt.metrics != nil {
		rt.metrics.RecordCleanupRequest(serviceName, len(req.URLs), accepted)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.logger.Info("cleanup_beacon_received",
		"request_id", requestIDFromContext(r.Context()),
		"session_id", req.SessionID,
		"received", len(req.URLs),
		"accepted", accepted,
	)
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

type analyzeURLRequest struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

type analyzeResponse struct {
	ID       string                   `json:"id"`
	Status   domain.AnalysisStatus    `json:"status"`
	Language string                   `json:"language"`
	Analysis *domain.PropertyAnalysis `json:"analysis,omitempty"`
	Summary  string                   `json:"summary,omitempty"`
}

type analysisFailureResponse struct {
	ID        string                   `json:"id,omitempty"`
	Error     string                   `json:"error"`
	ErrorType domain.AnalysisErrorType `json:"error_type"`
}

func (rt *Router) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		record *domain.AnalysisRecord
		err    error
		source string
	)
	switch mediaType {
	case "multipart/form-data":
		source = "upload"
		record, err = rt.analyzeMultipart(w, r)
	default:
		source = "url"
		var req analyzeURLRequest
		if decodeErr := decodeJSONBody(w, r, &req); decodeErr != nil {
			err = &domain.AnalysisError{Type: domain.ErrorTypeValidation, Message: "request body must be multipart form data or JSON", Err: decodeErr}
			break
		}
		if strings.TrimSpace(req.URL) == "" {
			err = &domain.AnalysisError{Type: domain.ErrorTypeValidation, Message: "no document provided"}
			break
		}
		record, err = rt.analyzer.AnalyzeURL(r.Context(), strings.TrimSpace(req.URL), req.Language)
	}

	rt.recordAnalysis(source, err, time.Since(start))
	if err != nil {
		rt.writeAnalysisError(w, r, record, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		ID:       record.ID,
		Status:   record.Status,
		Language: record.Language,
		Analysis: record.Outcome.Analysis,
		Summary:  record.Outcome.Summary,
	})
}

func (rt *Router) analyzeMultipart(w http.ResponseWriter, r *http.Request) (*domain.AnalysisRecord, error) {
	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxUploadBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, &domain.AnalysisError{Type: domain.ErrorTypeValidation, Message: "file is too large or the form is malformed", Err: err}
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &domain.AnalysisError{Type: domain.ErrorTypeValidation, Message: "multipart field 'file' is required", Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, domain.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read uploaded document: %w", err)
	}
	return rt.analyzer.AnalyzeUpload(r.Context(), header.Filename, data, r.FormValue("language"))
}

func (rt *Router) writeAnalysisError(w http.ResponseWriter, r *http.Request, record *domain.AnalysisRecord, err error) {
	aErr, ok := asAnalysisError(err)
	if !ok {
		status := mapErrorToHTTPStatus(err)
		rt.logFailure(r, status, err)
		writeJSON(w, status, analysisFailureResponse{
			Error:     "The analysis could not be completed. Please try again.",
			ErrorType: domain.ErrorTypeProcessing,
		})
		return
	}

	status := mapAnalysisErrorToHTTPStatus(aErr)
	rt.logFailure(r, status, err)
	resp := analysisFailureResponse{Error: aErr.Message, ErrorType: aErr.Type}
	if record != nil {
		resp.ID = record.ID
	}
	writeJSON(w, status, resp)
}

func (rt *Router) getAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := rt.analyses.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) exportAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := rt.analyses.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if record.Status != domain.AnalysisStatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "analysis is not completed"})
		return
	}

	book, err := buildAnalysisWorkbook(record)
	if err != nil {
		rt.writeError(w, r, fmt.Errorf("build workbook: %w", err))
		return
	}
	defer book.Close()

	buf, err := book.WriteToBuffer()
	if err != nil {
		rt.writeError(w, r, fmt.Errorf("render workbook: %w", err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "analysis-"+record.ID+".xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	rt.logFailure(r, status, err)
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status, err)})
}

func (rt *Router) logFailure(r *http.Request, status int, err error) {
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed", attrs...)
		return
	}
	rt.logger.Debug("http_handler_rejected", attrs...)
}

func (rt *Router) recordUpload(stage string, size int64, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, stage, size, err)
	}
}

func (rt *Router) recordAnalysis(source string, err error, d time.Duration) {
	if rt.metrics == nil {
		return
	}
	outcome := string(domain.AnalysisStatusCompleted)
	if err != nil {
		outcome = string(domain.ErrorTypeProcessing)
		if aErr, ok := asAnalysisError(err); ok {
			outcome = string(aErr.Type)
		}
	}
	rt.metrics.RecordAnalysis(serviceName, source, outcome, d)
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) < len("Bearer ") || !strings.EqualFold(raw[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[len("Bearer "):])
	return token, token != ""
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
