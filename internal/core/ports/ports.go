package ports

import (
	"context"
	"io"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

// Client-side collaborators of the upload lifecycle manager.

// TrackedBlobStore persists the tracked-blob set. Update runs fn over the
// whole set and stores its result; implementations serialize concurrent
// updates.
type TrackedBlobStore interface {
	List(ctx context.Context) ([]domain.TrackedBlob, error)
	Update(ctx context.Context, fn func([]domain.TrackedBlob) ([]domain.TrackedBlob, error)) error
}

// UploadClient performs the storage handshake and the transfer.
type UploadClient interface {
	Authorize(ctx context.Context, objectName string, constraints domain.UploadConstraints) (*domain.UploadAuthorization, error)
	Transfer(ctx context.Context, content io.Reader, auth *domain.UploadAuthorization) (publicURL string, err error)
}

// ObjectProber checks that an uploaded object is retrievable.
// A missing object returns domain.ErrNotFound.
type ObjectProber interface {
	Head(ctx context.Context, url string) error
}

// ObjectDeleter deletes an object by URL. A missing object is not an error.
type ObjectDeleter interface {
	Delete(ctx context.Context, url string) error
}

// BestEffortSender dispatches a request that must survive process or page
// teardown. The result is a best guess: true means accepted for delivery.
type BestEffortSender interface {
	Send(endpoint string, payload []byte) bool
}

// AnalysisClient submits a document for analysis.
type AnalysisClient interface {
	AnalyzeURL(ctx context.Context, documentURL, language string) (*domain.AnalysisRecord, error)
}
