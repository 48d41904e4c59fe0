package model

import "time"

// TargetStatus represents the state of a single (job, directory) submission.
type TargetStatus string

const (
	// TargetStatusPending indicates no attempt has reached a terminal state yet.
	TargetStatusPending TargetStatus = "pending"
	// TargetStatusSuccess indicates the external submission was confirmed.
	TargetStatusSuccess TargetStatus = "success"
	// TargetStatusFailedRetryable indicates the last attempt failed but the
	// retry budget is not exhausted; a delayed redelivery is scheduled.
	TargetStatusFailedRetryable TargetStatus = "failed_retryable"
	// TargetStatusFailedTerminal indicates retries are exhausted or the error
	// was classified terminal; the target counts toward job completion.
	TargetStatusFailedTerminal TargetStatus = "failed_terminal"
)

// Valid returns true if the TargetStatus is a known state.
func (s TargetStatus) Valid() bool {
	return s == TargetStatusPending || s == TargetStatusSuccess ||
		s == TargetStatusFailedRetryable || s == TargetStatusFailedTerminal
}

// Terminal reports whether the status ends processing for the target.
func (s TargetStatus) Terminal() bool {
	return s == TargetStatusSuccess || s == TargetStatusFailedTerminal
}

// TargetResult is the per-directory outcome row for a job. The idempotency
// key is written before any external attempt runs, so a crash between the
// external effect and the success write is detectable by re-deriving the key.
type TargetResult struct {
	JobID          string       `json:"job_id"                     db:"job_id"`
	TargetID       string       `json:"target_id"                  db:"target_id"`
	IdempotencyKey string       `json:"idempotency_key"            db:"idempotency_key"`
	Status         TargetStatus `json:"status"                     db:"status"`
	AttemptCount   int          `json:"attempt_count"              db:"attempt_count"`
	ErrorClass     *string      `json:"error_class,omitempty"      db:"error_class"`
	LastError      *string      `json:"last_error,omitempty"       db:"last_error"`
	ResultRef      *string      `json:"result_ref,omitempty"       db:"result_ref"`
	UpdatedAt      time.Time    `json:"updated_at"                 db:"updated_at"`
}
