package lifecycle

import (
	"context"
	"errors"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

// Upload stores an accepted candidate and tracks the result. The tracking
// record exists before verification starts, and verification finishes
// before Upload returns. A failed verification is only logged.
func (m *Manager) Upload(ctx context.Context, candidate domain.UploadCandidate) (*domain.TrackedBlob, error) {
	m.setStatus(StatusUploading)

	objectName := BuildObjectName(candidate.Name, m.opts.Now(), randomToken())
	auth, err := m.uploader.Authorize(ctx, objectName, domain.UploadConstraints{
		ContentType: candidate.MediaType,
		Size:        candidate.Size,
	})
	if err != nil {
		return nil, m.uploadFailed("authorize upload", objectName, err)
	}

	publicURL, err := m.uploader.Transfer(ctx, candidate.Content, auth)
	if err != nil {
		return nil, m.uploadFailed("transfer upload", objectName, err)
	}
	if publicURL == "" {
		return nil, m.uploadFailed("transfer upload", objectName, errors.New("storage returned an empty url"))
	}

	blob := domain.TrackedBlob{
		URL:       publicURL,
		SessionID: m.opts.SessionID,
		CreatedAt: m.opts.Now().UTC(),
		Active:    true,
	}
	if err := m.track(ctx, blob); err != nil {
		m.logger.Error("upload_track_failed", "url", publicURL, "error", err)
	}

	m.verify(ctx, publicURL)

	m.setCurrent(&blob, StatusUploaded)
	m.logger.Info("upload_completed", "url", publicURL, "object_name", objectName, "size", candidate.Size)

	out := blob
	return &out, nil
}

// Select validates a picker or drop selection and uploads it. An existing
// upload is untracked first and then deleted. When the deletion fails the
// entry is tracked again, inactive, for a later sweep. A deletion lost to a
// crash in between is accepted.
func (m *Manager) Select(ctx context.Context, files []domain.UploadCandidate, origin domain.SelectionOrigin) (*domain.TrackedBlob, error) {
	if err := ValidateCandidates(files, origin); err != nil {
		return nil, err
	}

	if prev := m.Current(); prev != nil {
		latest := m.refresh(ctx, *prev)
		if err := m.untrack(ctx, latest.URL); err != nil {
			m.logger.Warn("tracked_blobs_write_failed", "url", latest.URL, "error", err)
		}
		if !m.deleteBlob(ctx, latest, "superseded") {
			m.retain(ctx, latest)
		}
		m.setCurrent(nil, StatusIdle)
	}

	return m.Upload(ctx, files[0])
}

// Replace deletes the current upload and then uploads the new selection.
func (m *Manager) Replace(ctx context.Context, files []domain.UploadCandidate, origin domain.SelectionOrigin) (*domain.TrackedBlob, error) {
	if err := ValidateCandidates(files, origin); err != nil {
		return nil, err
	}

	if prev := m.Current(); prev != nil {
		m.discard(ctx, *prev, "replaced")
		m.setCurrent(nil, StatusIdle)
	}

	return m.Upload(ctx, files[0])
}

func (m *Manager) verify(ctx context.Context, url string) {
	err := m.verifier.Execute(ctx, "upload.verify", func(ctx context.Context) error {
		return m.prober.Head(ctx, url)
	}, resilience.RetryAll)
	if err == nil {
		return
	}
	m.logger.Warn("upload_verify_exhausted",
		"url", url,
		"attempts", m.verifier.Config().RetryMaxAttempts,
		"error", err,
	)
}

func (m *Manager) uploadFailed(operation, objectName string, err error) error {
	m.setCurrent(nil, StatusFailed)
	m.logger.Error("upload_failed", "operation", operation, "object_name", objectName, "error", err)
	return domain.WrapError(domain.ErrUploadFailed, operation, err)
}
