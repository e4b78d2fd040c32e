package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTemporary    = errors.New("temporary failure")
	ErrUploadFailed = errors.New("upload failed")
	ErrRateLimited  = errors.New("rate limited")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RejectionReason names the rule a candidate selection violated.
type RejectionReason string

const (
	RejectMultipleFiles   RejectionReason = "multiple_files"
	RejectInvalidFileType RejectionReason = "invalid_file_type"
	RejectFileTooLarge    RejectionReason = "file_too_large"
	RejectNoFile          RejectionReason = "no_file"
)

// ValidationError is returned when a selection is rejected before upload.
// Message is user-facing.
type ValidationError struct {
	Reason  RejectionReason
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	return e.Message
}

// Is lets callers test validation errors against ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func AsValidationError(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
