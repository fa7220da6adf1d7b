package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicate          = errors.New("duplicate content")
	ErrTemporary          = errors.New("temporary failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCritical           = errors.New("critical processing failure")
	ErrExtraction         = errors.New("extraction failure")
	ErrWriteFailure       = errors.New("write failure after successful processing")
)

// FailureClass is the machine-readable error taxonomy surfaced to clients and
// stored on the document record.
type FailureClass string

const (
	FailureNone               FailureClass = ""
	FailureTransient          FailureClass = "transient"
	FailureServiceUnavailable FailureClass = "service_unavailable"
	FailureCritical           FailureClass = "critical"
	FailureExtraction         FailureClass = "extraction"
	FailureInvalidInput       FailureClass = "invalid_input"
	FailureNotFound           FailureClass = "not_found"
	FailureDuplicate          FailureClass = "duplicate"
	FailureWrite              FailureClass = "write_failure"
)

// ClassifyFailure folds an error into the closed taxonomy. Order matters:
// the most specific sentinel wins.
func ClassifyFailure(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrExtraction):
		return FailureExtraction
	case errors.Is(err, ErrWriteFailure):
		return FailureWrite
	case errors.Is(err, ErrServiceUnavailable):
		return FailureServiceUnavailable
	case errors.Is(err, ErrCritical):
		return FailureCritical
	case errors.Is(err, ErrDuplicate):
		return FailureDuplicate
	case errors.Is(err, ErrDocumentNotFound):
		return FailureNotFound
	case errors.Is(err, ErrInvalidInput):
		return FailureInvalidInput
	case errors.Is(err, ErrTemporary):
		return FailureTransient
	default:
		return FailureCritical
	}
}

// Retryable reports whether a failure of this class can heal with time and
// so qualifies for automatic re-processing. Extraction and invalid-input
// failures are terminal; write failures go through the recovery path
// instead of re-processing.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureTransient, FailureServiceUnavailable, FailureCritical:
		return true
	}
	return false
}

// Failure is the structured error-class + message pair recorded on documents.
type Failure struct {
	Class   FailureClass
	Message string
}

func FailureFrom(err error) Failure {
	if err == nil {
		return Failure{}
	}
	return Failure{Class: ClassifyFailure(err), Message: err.Error()}
}

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
