package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

var (
	// Transient failures are retried and count against the breaker.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent failures are returned at once but still count as failures.
	Permanent = ErrorClassification{RecordFailure: true}
	// Benign errors, such as a missing object, are neither retried nor counted.
	Benign = ErrorClassification{}
)

// ClassifyWith builds a classifier for one dependency. Cancellation and open
// breakers are settled here; every other error goes to rule.
func ClassifyWith(rule func(error) ErrorClassification) ErrorClassifier {
	return func(err error) ErrorClassification {
		switch {
		case err == nil:
			return Benign
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Benign
		case IsCircuitOpen(err):
			return Transient
		}
		return rule(err)
	}
}

// Temporary reports whether err, as returned by Execute, is worth retrying
// later: retries ran out, the breaker is open or the last failure was
// transient.
func Temporary(err error, classify ErrorClassifier) bool {
	if err == nil {
		return false
	}
	return IsExhausted(err) || IsCircuitOpen(err) || classify(err).Retryable
}

// MarkTemporary wraps temporary failures as domain.ErrTemporary under
// operation and returns other errors unchanged.
func MarkTemporary(operation string, err error, classify ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if Temporary(err, classify) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
