// Package core defines the interfaces and parameter types that connect the
// pipeline's layers: the job store, queue, heartbeat registry, history
// trail, and the external submission operation.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
)

// Claim is the fencing token handed to a worker when it takes ownership of a
// job. Every conditional write from the worker presents it; a bumped
// generation in the store invalidates stragglers.
type Claim struct {
	JobID      string
	WorkerID   string
	Generation int64
}

// RecordTargetResultParams groups the inputs to JobStore.RecordTargetResult.
type RecordTargetResultParams struct {
	Claim          Claim
	TargetID       string
	IdempotencyKey string
	Status         model.TargetStatus
	AttemptCount   int
	ErrorClass     submission.Class
	ErrorMessage   string
	ResultRef      string
}

// RequeuedJob describes one job the stale monitor reclaimed.
type RequeuedJob struct {
	JobID         string
	StaleWorkerID string
	StaleFor      time.Duration
	// TargetIDs are the targets still pending or retryable at requeue time.
	TargetIDs []string
}

// JobStore is the durable system of record for jobs and per-target results.
// All cross-worker coordination goes through it via conditional writes.
type JobStore interface {
	CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ClaimJob(ctx context.Context, jobID, workerID string) (*model.Job, Claim, error)
	ReleaseJob(ctx context.Context, claim Claim) (bool, error)
	GetTargetResult(ctx context.Context, jobID, targetID string) (*model.TargetResult, error)
	ListPendingTargets(ctx context.Context, jobID string) ([]*model.TargetResult, error)
	RecordTargetResult(ctx context.Context, params RecordTargetResultParams) (*model.TargetResult, error)
	TryCompleteJob(ctx context.Context, jobID string) (bool, error)
	FailJob(ctx context.Context, jobID, errMsg string) (bool, error)
	Heartbeat(ctx context.Context, claim Claim) (bool, error)
	RequeueStaleJobs(ctx context.Context, threshold time.Duration, batchSize int) ([]RequeuedJob, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// HistoryRepository appends to the write-once queue history audit trail.
type HistoryRepository interface {
	Append(ctx context.Context, jobID string, eventType model.HistoryEventType, eventData any) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]*model.HistoryEvent, error)
}

// HeartbeatRegistry tracks worker liveness independently of job ownership.
type HeartbeatRegistry interface {
	Upsert(ctx context.Context, workerID string, jobID *string) error
	LastSeen(ctx context.Context, workerID string) (*model.WorkerHeartbeat, error)
}

// Message is the queue payload. TargetID is empty on initial job dispatch
// and on stale requeues, meaning "all pending targets".
type Message struct {
	JobID        string `json:"job_id"`
	TargetID     string `json:"target_id,omitempty"`
	AttemptCount int    `json:"attempt_count"`
}

// Queue is the durable queue collaborator: at-least-once delivery, delayed
// scheduling for retry backoff, and a dead-letter side channel.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error
	// Receive blocks up to its poll window and returns a delivery that must
	// be Acked or Nacked. Returns model.ErrNoJob when nothing arrived.
	Receive(ctx context.Context) (*Delivery, error)
	DeadLetter(ctx context.Context, msg Message) error
	ReceiveDeadLetter(ctx context.Context) (*Delivery, error)
}

// Delivery pairs a message with its acknowledgement handle.
type Delivery struct {
	Message Message
	// Ack removes the message from the in-flight set.
	Ack func(ctx context.Context) error
	// Nack returns the message to the queue for redelivery.
	Nack func(ctx context.Context) error
}

// SubmissionOperation is the opaque external collaborator that submits one
// listing to one directory (browser automation behind the interface). It
// must tolerate being invoked more than once for the same inputs before a
// success is durably recorded.
type SubmissionOperation interface {
	Submit(ctx context.Context, businessData json.RawMessage, targetID string) (resultRef string, err error)
}

// SubmissionOperationFunc adapts a function to SubmissionOperation.
type SubmissionOperationFunc func(ctx context.Context, businessData json.RawMessage, targetID string) (string, error)

// Submit implements SubmissionOperation.
func (f SubmissionOperationFunc) Submit(ctx context.Context, businessData json.RawMessage, targetID string) (string, error) {
	return f(ctx, businessData, targetID)
}
