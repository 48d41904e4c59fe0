// Package notify defines the failure notification payload and sink contract.
package notify

import (
	"context"
	"time"
)

// Severity constants recognized by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// SubmissionFailurePayload is the canonical data emitted when a target's
// retries are exhausted or a job fails outright.
type SubmissionFailurePayload struct {
	JobID        string
	TargetID     string
	CustomerRef  string
	Error        string
	ErrorClass   string
	AttemptCount int
	Severity     string
	OccurredAt   time.Time
	Metadata     map[string]string
}

// Sink is a destination capable of consuming failure notifications.
type Sink interface {
	SendSubmissionFailure(ctx context.Context, payload SubmissionFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload SubmissionFailurePayload) error

// SendSubmissionFailure implements the Sink interface.
func (f SinkFunc) SendSubmissionFailure(ctx context.Context, payload SubmissionFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
