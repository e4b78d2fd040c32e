package ports

import (
	"context"
	"io"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

// BlobStorage stores uploaded documents. Missing objects return
// domain.ErrNotFound from Head and Open; Delete of a missing object either
// succeeds or returns domain.ErrNotFound.
type BlobStorage interface {
	Put(ctx context.Context, key, contentType string, size int64, data io.Reader) (*domain.ObjectInfo, error)
	Head(ctx context.Context, key string) (*domain.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// KeyFromURL resolves a public URL issued by this storage to its key.
	KeyFromURL(rawURL string) (string, error)
}

// AnalysisRepository persists analysis runs.
type AnalysisRepository interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	Complete(ctx context.Context, id string, outcome domain.AnalysisOutcome) error
	Fail(ctx context.Context, id string, errorType domain.AnalysisErrorType, message string) error
}

// CleanupQueue publishes/consumes blob deletion jobs.
type CleanupQueue interface {
	PublishCleanup(ctx context.Context, blobURL string) error
	SubscribeCleanup(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a PDF document.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// PropertyAnalyzer asks the generative model to analyse extracted report
// text. A reply that is not structured JSON comes back as a summary.
type PropertyAnalyzer interface {
	Analyze(ctx context.Context, text, language string) (domain.AnalysisOutcome, error)
}
