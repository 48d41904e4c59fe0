package submission

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

func TestClassRetryable(t *testing.T) {
	assert.True(t, ClassTransient.Retryable())
	assert.True(t, ClassUnclassified.Retryable())
	assert.False(t, ClassValidation.Retryable())
	assert.False(t, ClassPermanent.Retryable())
}

func TestClassifyClassifiedError(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(NewTransientError(errors.New("503"))))
	assert.Equal(t, ClassPermanent, Classify(NewPermanentError(errors.New("duplicate listing"))))
	assert.Equal(t, ClassValidation, Classify(NewValidationError(errors.New("missing name"))))
}

func TestClassifyWrappedClassifiedError(t *testing.T) {
	err := fmt.Errorf("submit yelp: %w", NewTransientError(errors.New("timeout")))
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("submit: %w", context.DeadlineExceeded)))
}

func TestClassifyValidationAppError(t *testing.T) {
	err := apperrors.Validation("business data is malformed")
	assert.Equal(t, ClassValidation, Classify(err))
}

func TestClassifyFallthrough(t *testing.T) {
	assert.Equal(t, ClassUnclassified, Classify(errors.New("something odd")))
	assert.Equal(t, ClassUnclassified, Classify(nil))
}

func TestClassifiedErrorMessage(t *testing.T) {
	err := NewPermanentError(errors.New("account banned"))
	assert.Equal(t, "permanent: account banned", err.Error())
	assert.Equal(t, "permanent", (&ClassifiedError{Class: ClassPermanent}).Error())
}
