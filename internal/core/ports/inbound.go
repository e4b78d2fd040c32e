package ports

import (
	"context"
	"io"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

// UploadService is the inbound contract for the upload handshake and transfer.
type UploadService interface {
	Authorize(ctx context.Context, objectName string, constraints domain.UploadConstraints) (*domain.UploadAuthorization, error)
	Accept(ctx context.Context, token, objectName string, size int64, body io.Reader) (*domain.ObjectInfo, error)
}

// BlobService is the inbound contract for existence checks, reads and cleanup.
type BlobService interface {
	Head(ctx context.Context, objectName string) (*domain.ObjectInfo, error)
	Open(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, blobURL string) error
	EnqueueCleanup(ctx context.Context, blobURLs []string) (accepted int, err error)
}

// DocumentAnalyzer is the inbound contract for analysis submission.
type DocumentAnalyzer interface {
	AnalyzeUpload(ctx context.Context, filename string, data []byte, language string) (*domain.AnalysisRecord, error)
	AnalyzeURL(ctx context.Context, documentURL, language string) (*domain.AnalysisRecord, error)
}

// AnalysisReader is the read model for stored analyses.
type AnalysisReader interface {
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
}
