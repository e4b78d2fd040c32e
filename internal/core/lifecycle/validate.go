package lifecycle

import (
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const (
	msgMultipleDropped  = "Please drop only one file at a time."
	msgMultipleSelected = "Please select only one file."
	msgInvalidType      = "Only PDF files are accepted."
	msgTooLarge         = "File is too large. Maximum size is 50 MB."
	msgNoFile           = "No file selected."

	// UploadFailedMessage is the single user-facing upload failure message.
	UploadFailedMessage = "Upload failed. Please try again."
)

// ValidateCandidates checks a selection before anything is uploaded. It has
// no side effects. A nil error means files[0] may be uploaded.
func ValidateCandidates(files []domain.UploadCandidate, origin domain.SelectionOrigin) error {
	switch {
	case len(files) == 0:
		return &domain.ValidationError{Reason: domain.RejectNoFile, Message: msgNoFile}
	case len(files) > 1:
		msg := msgMultipleSelected
		if origin == domain.OriginDrop {
			msg = msgMultipleDropped
		}
		return &domain.ValidationError{Reason: domain.RejectMultipleFiles, Message: msg}
	}

	file := files[0]
	if file.MediaType != domain.PDFMediaType {
		return &domain.ValidationError{Reason: domain.RejectInvalidFileType, Message: msgInvalidType}
	}
	if file.Size > domain.MaxUploadBytes {
		return &domain.ValidationError{Reason: domain.RejectFileTooLarge, Message: msgTooLarge}
	}
	return nil
}
