package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const testBlobBase = "http://blobs.test/v1/blobs/"

type storageFake struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	putErr    error
	deleteErr error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (s *storageFake) Put(_ context.Context, key, contentType string, _ int64, data io.Reader) (*domain.ObjectInfo, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[key] = raw
	s.mu.Unlock()
	return &domain.ObjectInfo{Key: key, URL: testBlobBase + key, ContentType: contentType, Size: int64(len(raw))}, nil
}

func (s *storageFake) Head(_ context.Context, key string) (*domain.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "head", errors.New(key))
	}
	return &domain.ObjectInfo{Key: key, URL: testBlobBase + key, Size: int64(len(raw))}, nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *storageFake) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.objects[key]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete", errors.New(key))
	}
	delete(s.objects, key)
	return nil
}

func (s *storageFake) KeyFromURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, testBlobBase) {
		return "", fmt.Errorf("foreign url %q", rawURL)
	}
	return strings.TrimPrefix(rawURL, testBlobBase), nil
}

func (s *storageFake) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (q *queueFake) PublishCleanup(_ context.Context, blobURL string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, blobURL)
	return nil
}

func (q *queueFake) SubscribeCleanup(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type analysisRepoFake struct {
	records   map[string]*domain.AnalysisRecord
	createErr error
}

func newAnalysisRepoFake() *analysisRepoFake {
	return &analysisRepoFake{records: map[string]*domain.AnalysisRecord{}}
}

func (r *analysisRepoFake) Create(_ context.Context, record *domain.AnalysisRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	copyRecord := *record
	r.records[record.ID] = &copyRecord
	return nil
}

func (r *analysisRepoFake) GetByID(_ context.Context, id string) (*domain.AnalysisRecord, error) {
	record, ok := r.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get", errors.New(id))
	}
	copyRecord := *record
	return &copyRecord, nil
}

func (r *analysisRepoFake) Complete(_ context.Context, id string, outcome domain.AnalysisOutcome) error {
	record, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = domain.AnalysisStatusCompleted
	record.Outcome = outcome
	return nil
}

func (r *analysisRepoFake) Fail(_ context.Context, id string, errorType domain.AnalysisErrorType, message string) error {
	record, ok := r.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = domain.AnalysisStatusFailed
	record.ErrorType = errorType
	record.Error = message
	return nil
}

type extractorFake struct {
	text string
	err  error
}

func (e *extractorFake) Extract(context.Context, []byte) (string, error) {
	return e.text, e.err
}

type analyzerFake struct {
	outcome  domain.AnalysisOutcome
	err      error
	language string
	calls    int
}

func (a *analyzerFake) Analyze(_ context.Context, _ string, language string) (domain.AnalysisOutcome, error) {
	a.calls++
	a.language = language
	return a.outcome, a.err
}
