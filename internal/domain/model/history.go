package model

import (
	"encoding/json"
	"time"
)

// HistoryEventType enumerates the append-only queue history event kinds.
type HistoryEventType string

const (
	// HistoryEventClaimed records a worker taking ownership of a job.
	HistoryEventClaimed HistoryEventType = "claimed"
	// HistoryEventTargetAttempted records one executor invocation for a target.
	HistoryEventTargetAttempted HistoryEventType = "target_attempted"
	// HistoryEventTargetSucceeded records a confirmed external submission.
	HistoryEventTargetSucceeded HistoryEventType = "target_succeeded"
	// HistoryEventTargetExhausted records a target whose retries ran out.
	HistoryEventTargetExhausted HistoryEventType = "target_exhausted"
	// HistoryEventRequeued records a stale-job recovery re-dispatch.
	HistoryEventRequeued HistoryEventType = "requeued"
	// HistoryEventJobCompleted records the job's terminal transition.
	HistoryEventJobCompleted HistoryEventType = "job_completed"
)

// Valid returns true if the HistoryEventType is a known kind.
func (t HistoryEventType) Valid() bool {
	switch t {
	case HistoryEventClaimed, HistoryEventTargetAttempted, HistoryEventTargetSucceeded,
		HistoryEventTargetExhausted, HistoryEventRequeued, HistoryEventJobCompleted:
		return true
	default:
		return false
	}
}

// HistoryEvent is one write-once audit row. Rows are never updated or
// deleted within pipeline scope; retention is an external concern.
type HistoryEvent struct {
	ID        int64            `json:"id"         db:"id"`
	JobID     string           `json:"job_id"     db:"job_id"`
	EventType HistoryEventType `json:"event_type" db:"event_type"`
	EventData json.RawMessage  `json:"event_data" db:"event_data"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
