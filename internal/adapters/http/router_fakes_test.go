package httpadapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

type uploadServiceFake struct {
	authorizeErr error
	acceptErr    error

	mu       sync.Mutex
	token    string
	object   string
	size     int64
	received []byte
}

func (f *uploadServiceFake) Authorize(_ context.Context, objectName string, c domain.UploadConstraints) (*domain.UploadAuthorization, error) {
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	return &domain.UploadAuthorization{
		ObjectName: objectName,
		UploadURL:  "http://api.test/v1/uploads/" + objectName,
		Token:      "token-" + objectName,
		ExpiresAt:  time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC),
	}, nil
}

func (f *uploadServiceFake) Accept(_ context.Context, token, objectName string, size int64, body io.Reader) (*domain.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token, f.object, f.size = token, objectName, size
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.received = data
	return &domain.ObjectInfo{
		Key:         objectName,
		URL:         "http://api.test/v1/blobs/" + objectName,
		ContentType: domain.PDFMediaType,
		Size:        int64(len(data)),
	}, nil
}

type blobServiceFake struct {
	objects   map[string][]byte
	deleteErr error
	enqueued  []string
	accepted  int

	mu      sync.Mutex
	deleted []string
}

func (f *blobServiceFake) Head(_ context.Context, objectName string) (*domain.ObjectInfo, error) {
	data, ok := f.objects[objectName]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "head blob", io.EOF)
	}
	return &domain.ObjectInfo{Key: objectName, ContentType: domain.PDFMediaType, Size: int64(len(data))}, nil
}

func (f *blobServiceFake) Open(_ context.Context, objectName string) (io.ReadCloser, error) {
	data, ok := f.objects[objectName]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open blob", io.EOF)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *blobServiceFake) Delete(_ context.Context, blobURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, blobURL)
	return f.deleteErr
}

func (f *blobServiceFake) EnqueueCleanup(_ context.Context, blobURLs []string) (int, error) {
	f.enqueued = append(f.enqueued, blobURLs...)
	if f.accepted > 0 {
		return f.accepted, nil
	}
	return len(blobURLs), nil
}

type documentAnalyzerFake struct {
	record *domain.AnalysisRecord
	err    error

	filename string
	data     []byte
	url      string
	language string
}

func (f *documentAnalyzerFake) AnalyzeUpload(_ context.Context, filename string, data []byte, language string) (*domain.AnalysisRecord, error) {
	f.filename, f.data, f.language = filename, data, language
	return f.record, f.err
}

func (f *documentAnalyzerFake) AnalyzeURL(_ context.Context, documentURL, language string) (*domain.AnalysisRecord, error) {
	f.url, f.language = documentURL, language
	return f.record, f.err
}

type analysisReaderFake struct {
	records map[string]*domain.AnalysisRecord
}

func (f analysisReaderFake) GetByID(_ context.Context, id string) (*domain.AnalysisRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis", io.EOF)
	}
	return record, nil
}

type routerFixture struct {
	uploads  *uploadServiceFake
	blobs    *blobServiceFake
	analyzer *documentAnalyzerFake
	analyses analysisReaderFake
}

func newRouterFixture() *routerFixture {
	return &routerFixture{
		uploads:  &uploadServiceFake{},
		blobs:    &blobServiceFake{objects: map[string][]byte{}},
		analyzer: &documentAnalyzerFake{},
		analyses: analysisReaderFake{records: map[string]*domain.AnalysisRecord{}},
	}
}

func (f *routerFixture) handler(cfg config.Config) http.Handler {
	return NewRouter(cfg, f.uploads, f.blobs, f.analyzer, f.analyses).Handler()
}

func newTestHandler(cfg config.Config) http.Handler {
	return newRouterFixture().handler(cfg)
}

func completedRecord() *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		ID:       "7f0c3c1e-4d5b-4a43-9a55-0d8d4f3b2a10",
		Filename: "survey.pdf",
		Language: "en",
		Status:   domain.AnalysisStatusCompleted,
		Outcome: domain.AnalysisOutcome{Analysis: &domain.PropertyAnalysis{
			IsPropertyDocument: true,
			DocumentType:       "building survey",
			Language:           "en",
			Summary:            "Solid Victorian terrace with a damp cellar.",
			Details: domain.PropertyDetails{
				Address:      "12 Acacia Avenue",
				PropertyType: "terraced house",
				Bedrooms:     3,
				AreaSqm:      96.5,
			},
			Strengths: []domain.Finding{{Title: "Roof", Description: "Recently re-slated"}},
			Concerns:  []domain.Finding{{Title: "Damp", Description: "Rising damp in cellar", Severity: "high"}},
		}},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
