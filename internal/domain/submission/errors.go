package submission

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// Class categorizes a failed submission attempt for retry decisions.
type Class string

const (
	// ClassValidation marks malformed business data or target identifiers.
	// Never retried.
	ClassValidation Class = "validation"
	// ClassTransient marks network, timeout, and rate-limit failures from
	// the external submission operation. Retried.
	ClassTransient Class = "transient"
	// ClassPermanent marks categorical rejection by the target directory
	// (duplicate listing, banned account). Never retried.
	ClassPermanent Class = "permanent"
	// ClassUnclassified is the default for errors the executor cannot
	// categorize. Treated as retryable.
	ClassUnclassified Class = "unclassified"
)

// Retryable reports whether the class permits another attempt.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassUnclassified
}

// ErrClaimSuperseded indicates a write carried a stale claim generation:
// the job was reclaimed (stale recovery) while this worker was still
// running. It signals benign contention, never surfaces to the queue, and
// the superseded worker simply abandons its work.
var ErrClaimSuperseded = errors.New("claim generation superseded")

// ClassifiedError lets submission operations signal their own class.
type ClassifiedError struct {
	Class Class
	Err   error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable external failure.
func NewTransientError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// NewPermanentError wraps err as a terminal external rejection.
func NewPermanentError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassPermanent, Err: err}
}

// NewValidationError wraps err as a terminal input failure.
func NewValidationError(err error) *ClassifiedError {
	return &ClassifiedError{Class: ClassValidation, Err: err}
}

// Classify maps an error from the submission operation to a Class.
// Timeouts are transient; validation app-errors are validation; explicit
// ClassifiedError wins; everything else is unclassified.
func Classify(err error) Class {
	if err == nil {
		return ClassUnclassified
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if apperrors.IsValidation(err) {
		return ClassValidation
	}
	return ClassUnclassified
}
