package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapAnalysisErrorToHTTPStatus picks the status for a failed analysis run.
// Processing failures caused by a temporarily unavailable model are 503.
func mapAnalysisErrorToHTTPStatus(aErr *domain.AnalysisError) int {
	switch aErr.Type {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeInvalidDocumentType, domain.ErrorTypeInsufficientData:
		return http.StatusUnprocessableEntity
	default:
		if domain.IsKind(aErr, domain.ErrTemporary) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
}

func asAnalysisError(err error) (*domain.AnalysisError, bool) {
	var aErr *domain.AnalysisError
	if errors.As(err, &aErr) {
		return aErr, true
	}
	return nil, false
}

// publicErrorMessage hides internal details of 5xx errors.
func publicErrorMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		if status == http.StatusServiceUnavailable {
			return "service temporarily unavailable"
		}
		return "internal server error"
	}
	return err.Error()
}
