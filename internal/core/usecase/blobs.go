package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
)

const backgroundCleanupTimeout = 30 * time.Second

// BlobUseCase serves existence checks, reads and deletions of uploaded
// documents. Protected objects are never deleted.
type BlobUseCase struct {
	storage   ports.BlobStorage
	queue     ports.CleanupQueue
	protected domain.ProtectedObjects
	logger    *slog.Logger

	background sync.WaitGroup
}

// NewBlobUseCase builds the blob service. queue may be nil, in which case
// cleanup requests are processed in-process in the background.
func NewBlobUseCase(storage ports.BlobStorage, queue ports.CleanupQueue, protected domain.ProtectedObjects, logger *slog.Logger) *BlobUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobUseCase{
		storage:   storage,
		queue:     queue,
		protected: protected,
		logger:    logger,
	}
}

func (uc *BlobUseCase) Head(ctx context.Context, objectName string) (*domain.ObjectInfo, error) {
	if !ValidObjectName(objectName) {
		return nil, domain.WrapError(domain.ErrNotFound, "head blob", fmt.Errorf("invalid object name %q", objectName))
	}
	return uc.storage.Head(ctx, objectName)
}

func (uc *BlobUseCase) Open(ctx context.Context, objectName string) (io.ReadCloser, error) {
	if !ValidObjectName(objectName) {
		return nil, domain.WrapError(domain.ErrNotFound, "open blob", fmt.Errorf("invalid object name %q", objectName))
	}
	return uc.storage.Open(ctx, objectName)
}

// Delete removes the object behind blobURL. A missing object is a success.
func (uc *BlobUseCase) Delete(ctx context.Context, blobURL string) error {
	const op = "delete blob"

	key, err := uc.storage.KeyFromURL(blobURL)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if uc.protected.Contains(blobURL) || uc.protected.Contains(key) {
		return domain.WrapError(domain.ErrForbidden, op, fmt.Errorf("object %q is protected", key))
	}
	if err := uc.storage.Delete(ctx, key); err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	uc.logger.Info("blob_deleted", "key", key)
	return nil
}

// EnqueueCleanup accepts a batch of deletion requests and returns without
// waiting for them. Protected, duplicate and foreign URLs are dropped.
func (uc *BlobUseCase) EnqueueCleanup(ctx context.Context, blobURLs []string) (int, error) {
	urls := uc.acceptable(blobURLs)
	if len(urls) == 0 {
		return 0, nil
	}

	var local []string
	for _, u := range urls {
		if uc.queue == nil {
			local = append(local, u)
			continue
		}
		if err := uc.queue.PublishCleanup(ctx, u); err != nil {
			uc.logger.Warn("cleanup_publish_failed", "url", u, "error", err)
			local = append(local, u)
		}
	}
	if len(local) > 0 {
		uc.deleteInBackground(context.WithoutCancel(ctx), local)
	}
	return len(urls), nil
}

// Wait blocks until background deletions started by EnqueueCleanup finish.
func (uc *BlobUseCase) Wait() {
	uc.background.Wait()
}

func (uc *BlobUseCase) acceptable(blobURLs []string) []string {
	seen := make(map[string]struct{}, len(blobURLs))
	out := make([]string, 0, len(blobURLs))
	for _, raw := range blobURLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		if uc.protected.Contains(u) {
			uc.logger.Debug("cleanup_skipped_protected", "url", u)
			continue
		}
		if _, err := uc.storage.KeyFromURL(u); err != nil {
			uc.logger.Debug("cleanup_skipped_foreign", "url", u, "error", err)
			continue
		}
		out = append(out, u)
	}
	return out
}

func (uc *BlobUseCase) deleteInBackground(ctx context.Context, urls []string) {
	uc.background.Add(1)
	go func() {
		defer uc.background.Done()
		ctx, cancel := context.WithTimeout(ctx, backgroundCleanupTimeout)
		defer cancel()
		for _, u := range urls {
			if err := uc.Delete(ctx, u); err != nil {
				uc.logger.Warn("cleanup_delete_failed", "url", u, "trigger", "beacon", "error", err)
			}
		}
	}()
}
