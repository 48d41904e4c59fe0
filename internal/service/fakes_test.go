package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
)

// fakeStore is a hand-rolled core.JobStore for service tests. Behavior is
// supplied per test through the function fields; calls that matter for
// assertions are recorded.
type fakeStore struct {
	mu sync.Mutex

	createJobFn          func(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	getJobFn             func(ctx context.Context, jobID string) (*model.Job, error)
	claimJobFn           func(ctx context.Context, jobID, workerID string) (*model.Job, core.Claim, error)
	releaseJobFn         func(ctx context.Context, claim core.Claim) (bool, error)
	getTargetResultFn    func(ctx context.Context, jobID, targetID string) (*model.TargetResult, error)
	listPendingTargetsFn func(ctx context.Context, jobID string) ([]*model.TargetResult, error)
	recordTargetResultFn func(ctx context.Context, params core.RecordTargetResultParams) (*model.TargetResult, error)
	tryCompleteJobFn     func(ctx context.Context, jobID string) (bool, error)
	failJobFn            func(ctx context.Context, jobID, errMsg string) (bool, error)
	heartbeatFn          func(ctx context.Context, claim core.Claim) (bool, error)
	requeueStaleJobsFn   func(ctx context.Context, threshold time.Duration, batchSize int) ([]core.RequeuedJob, error)

	recorded  []core.RecordTargetResultParams
	released  []core.Claim
	completed []string
	failed    []string
}

func (s *fakeStore) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if s.createJobFn == nil {
		return nil, errors.New("fakeStore: CreateJob not configured")
	}
	return s.createJobFn(ctx, req)
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	if s.getJobFn == nil {
		return nil, errors.New("fakeStore: GetJob not configured")
	}
	return s.getJobFn(ctx, jobID)
}

func (s *fakeStore) ClaimJob(ctx context.Context, jobID, workerID string) (*model.Job, core.Claim, error) {
	if s.claimJobFn == nil {
		return nil, core.Claim{}, errors.New("fakeStore: ClaimJob not configured")
	}
	return s.claimJobFn(ctx, jobID, workerID)
}

func (s *fakeStore) ReleaseJob(ctx context.Context, claim core.Claim) (bool, error) {
	s.mu.Lock()
	s.released = append(s.released, claim)
	s.mu.Unlock()
	if s.releaseJobFn == nil {
		return true, nil
	}
	return s.releaseJobFn(ctx, claim)
}

func (s *fakeStore) GetTargetResult(ctx context.Context, jobID, targetID string) (*model.TargetResult, error) {
	if s.getTargetResultFn == nil {
		return nil, errors.New("fakeStore: GetTargetResult not configured")
	}
	return s.getTargetResultFn(ctx, jobID, targetID)
}

func (s *fakeStore) ListPendingTargets(ctx context.Context, jobID string) ([]*model.TargetResult, error) {
	if s.listPendingTargetsFn == nil {
		return nil, errors.New("fakeStore: ListPendingTargets not configured")
	}
	return s.listPendingTargetsFn(ctx, jobID)
}

func (s *fakeStore) RecordTargetResult(ctx context.Context, params core.RecordTargetResultParams) (*model.TargetResult, error) {
	s.mu.Lock()
	s.recorded = append(s.recorded, params)
	s.mu.Unlock()
	if s.recordTargetResultFn == nil {
		return &model.TargetResult{
			JobID:          params.Claim.JobID,
			TargetID:       params.TargetID,
			IdempotencyKey: params.IdempotencyKey,
			Status:         params.Status,
			AttemptCount:   params.AttemptCount,
		}, nil
	}
	return s.recordTargetResultFn(ctx, params)
}

func (s *fakeStore) TryCompleteJob(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	s.completed = append(s.completed, jobID)
	s.mu.Unlock()
	if s.tryCompleteJobFn == nil {
		return false, nil
	}
	return s.tryCompleteJobFn(ctx, jobID)
}

func (s *fakeStore) FailJob(ctx context.Context, jobID, errMsg string) (bool, error) {
	s.mu.Lock()
	s.failed = append(s.failed, jobID)
	s.mu.Unlock()
	if s.failJobFn == nil {
		return true, nil
	}
	return s.failJobFn(ctx, jobID, errMsg)
}

func (s *fakeStore) Heartbeat(ctx context.Context, claim core.Claim) (bool, error) {
	if s.heartbeatFn == nil {
		return true, nil
	}
	return s.heartbeatFn(ctx, claim)
}

func (s *fakeStore) RequeueStaleJobs(ctx context.Context, threshold time.Duration, batchSize int) ([]core.RequeuedJob, error) {
	if s.requeueStaleJobsFn == nil {
		return nil, nil
	}
	return s.requeueStaleJobsFn(ctx, threshold, batchSize)
}

func (s *fakeStore) Stats(ctx context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (s *fakeStore) recordedParams() []core.RecordTargetResultParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RecordTargetResultParams(nil), s.recorded...)
}

func (s *fakeStore) releasedClaims() []core.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Claim(nil), s.released...)
}

func (s *fakeStore) completedJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...)
}

func (s *fakeStore) failedJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failed...)
}

// delayedMessage pairs a scheduled retry with its backoff delay.
type delayedMessage struct {
	Message core.Message
	Delay   time.Duration
}

// fakeQueue records published, delayed, and dead-lettered messages.
type fakeQueue struct {
	mu sync.Mutex

	publishFn func(ctx context.Context, msg core.Message) error
	receiveFn func(ctx context.Context) (*core.Delivery, error)

	published    []core.Message
	delayed      []delayedMessage
	deadLettered []core.Message
}

func (q *fakeQueue) Publish(ctx context.Context, msg core.Message) error {
	q.mu.Lock()
	q.published = append(q.published, msg)
	q.mu.Unlock()
	if q.publishFn == nil {
		return nil
	}
	return q.publishFn(ctx, msg)
}

func (q *fakeQueue) PublishDelayed(ctx context.Context, msg core.Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayedMessage{Message: msg, Delay: delay})
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (*core.Delivery, error) {
	if q.receiveFn != nil {
		return q.receiveFn(ctx)
	}
	return nil, model.ErrNoJob
}

func (q *fakeQueue) DeadLetter(ctx context.Context, msg core.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLettered = append(q.deadLettered, msg)
	return nil
}

func (q *fakeQueue) ReceiveDeadLetter(ctx context.Context) (*core.Delivery, error) {
	return nil, model.ErrNoJob
}

func (q *fakeQueue) publishedMessages() []core.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.Message(nil), q.published...)
}

func (q *fakeQueue) delayedMessages() []delayedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]delayedMessage(nil), q.delayed...)
}

func (q *fakeQueue) deadLetteredMessages() []core.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]core.Message(nil), q.deadLettered...)
}

// appendedEvent is one recorded history append.
type appendedEvent struct {
	JobID     string
	EventType model.HistoryEventType
	EventData any
}

// fakeHistory records appended audit events.
type fakeHistory struct {
	mu     sync.Mutex
	events []appendedEvent
}

func (h *fakeHistory) Append(ctx context.Context, jobID string, eventType model.HistoryEventType, eventData any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, appendedEvent{JobID: jobID, EventType: eventType, EventData: eventData})
	return nil
}

func (h *fakeHistory) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.HistoryEvent, error) {
	return nil, nil
}

func (h *fakeHistory) eventTypes() []model.HistoryEventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]model.HistoryEventType, 0, len(h.events))
	for _, e := range h.events {
		types = append(types, e.EventType)
	}
	return types
}

// testDelivery builds a delivery whose ack/nack outcomes are observable.
type testDelivery struct {
	delivery *core.Delivery
	acked    bool
	nacked   bool
}

func newTestDelivery(msg core.Message) *testDelivery {
	d := &testDelivery{}
	d.delivery = &core.Delivery{
		Message: msg,
		Ack: func(ctx context.Context) error {
			d.acked = true
			return nil
		},
		Nack: func(ctx context.Context) error {
			d.nacked = true
			return nil
		},
	}
	return d
}

func testJob(jobID string) *model.Job {
	return &model.Job{
		ID:           jobID,
		CustomerRef:  "cust-1",
		BusinessData: json.RawMessage(`{"name":"Acme Co"}`),
		Status:       model.JobStatusPending,
		TargetsTotal: 2,
		CreatedAt:    time.Now(),
	}
}

func testTarget(jobID, targetID string, attempts int) *model.TargetResult {
	return &model.TargetResult{
		JobID:          jobID,
		TargetID:       targetID,
		IdempotencyKey: "key-" + jobID + "-" + targetID,
		Status:         model.TargetStatusPending,
		AttemptCount:   attempts,
	}
}
