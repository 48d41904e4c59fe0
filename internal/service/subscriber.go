package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
)

// SubscriberOptions groups dependencies for Subscriber.
type SubscriberOptions struct {
	Store    core.JobStore          // Required: durable job store
	Queue    core.Queue             // Required: delivery source
	Executor *Executor              // Required: per-target attempt runner
	Registry core.HeartbeatRegistry // Optional: idle worker liveness

	// WorkerID identifies this subscriber. Generated when empty.
	WorkerID string
	// Concurrency bounds in-flight target submissions, both per job and
	// across jobs.
	Concurrency int

	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink
}

// Subscriber is the long-running consume loop of one worker process. It
// receives queue deliveries, claims the named job, fans executors out over
// the delivery's targets, and acks only after every target reached a
// terminal-or-rescheduled state.
type Subscriber struct {
	store       core.JobStore
	queue       core.Queue
	executor    *Executor
	registry    core.HeartbeatRegistry
	workerID    string
	concurrency int
	logger      *slog.Logger
	metrics     statsd.Sink

	// sem bounds target submissions across all jobs this worker handles.
	sem *semaphore.Weighted
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("Executor is required")
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + uuid.NewString()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Subscriber{
		store:       opts.Store,
		queue:       opts.Queue,
		executor:    opts.Executor,
		registry:    opts.Registry,
		workerID:    opts.WorkerID,
		concurrency: opts.Concurrency,
		logger: opts.Logger.With(
			"component", "subscriber",
			"worker_id", opts.WorkerID,
		),
		metrics: opts.Metrics,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// MustNewSubscriber constructs a Subscriber and panics on invalid options.
func MustNewSubscriber(opts SubscriberOptions) *Subscriber {
	s, err := NewSubscriber(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// WorkerID returns this subscriber's worker identity.
func (s *Subscriber) WorkerID() string {
	return s.workerID
}

// Run consumes deliveries until the context is cancelled. Returns nil on
// graceful shutdown.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting subscriber", "concurrency", s.concurrency)

	for {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}

		delivery, err := s.queue.Receive(ctx)
		if errors.Is(err, model.ErrNoJob) {
			s.markIdle(ctx)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.ErrorContext(ctx, "receive failed", "err", err)
			// Back off briefly so a down queue does not spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := s.handleDelivery(ctx, delivery); err != nil {
			s.logger.ErrorContext(ctx, "delivery handling failed",
				"job_id", delivery.Message.JobID, "err", err)
			// Nacked messages come straight back; back off so a down store
			// does not spin the receive loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// markIdle keeps the worker's heartbeat row fresh while no job is owned.
func (s *Subscriber) markIdle(ctx context.Context) {
	if s.registry == nil {
		return
	}
	if err := s.registry.Upsert(ctx, s.workerID, nil); err != nil {
		s.logger.DebugContext(ctx, "idle heartbeat failed", "err", err)
	}
}

// handleDelivery processes one queue message end to end. Redelivery is safe
// at every step: messages for terminal or foreign-owned jobs ack without side
// effects, and store-unreachable errors nack for redelivery.
func (s *Subscriber) handleDelivery(ctx context.Context, delivery *core.Delivery) error {
	msg := delivery.Message
	logger := s.logger.With("job_id", msg.JobID)

	job, err := s.store.GetJob(ctx, msg.JobID)
	if errors.Is(err, data.ErrJobNotFound) {
		logger.WarnContext(ctx, "message for unknown job, dropping")
		return delivery.Ack(ctx)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("get job: %w", err), delivery.Nack(ctx))
	}
	if job.Status.Terminal() {
		logger.DebugContext(ctx, "message for terminal job, dropping",
			"status", job.Status)
		return delivery.Ack(ctx)
	}

	job, claim, err := s.store.ClaimJob(ctx, msg.JobID, s.workerID)
	switch {
	case errors.Is(err, data.ErrJobAlreadyClaimed):
		return s.handleClaimHeldElsewhere(ctx, logger, delivery)
	case errors.Is(err, data.ErrJobFinished), errors.Is(err, data.ErrJobNotFound):
		return delivery.Ack(ctx)
	case err != nil:
		return errors.Join(fmt.Errorf("claim job: %w", err), delivery.Nack(ctx))
	}

	if !json.Valid(job.BusinessData) {
		// The snapshot is the input to every target; a corrupt one is a
		// pipeline fault, not a per-target failure.
		logger.ErrorContext(ctx, "business data snapshot undecodable, failing job")
		if _, err := s.store.FailJob(ctx, msg.JobID, "undecodable business data snapshot"); err != nil {
			return errors.Join(fmt.Errorf("fail corrupt job: %w", err), delivery.Nack(ctx))
		}
		return delivery.Ack(ctx)
	}

	targets, err := s.resolveTargets(ctx, msg)
	if err != nil {
		if released, relErr := s.store.ReleaseJob(ctx, claim); relErr != nil {
			logger.ErrorContext(ctx, "release after target resolution failure",
				"released", released, "err", relErr)
		}
		return errors.Join(fmt.Errorf("resolve targets: %w", err), delivery.Nack(ctx))
	}

	if !hasOpenTargets(targets) {
		// Every target is already terminal but the job never completed: a
		// worker died between its last terminal record and TryCompleteJob.
		// Converge it here instead of cycling through stale recovery.
		if _, err := s.store.TryCompleteJob(ctx, msg.JobID); err != nil {
			if _, relErr := s.store.ReleaseJob(ctx, claim); relErr != nil {
				logger.ErrorContext(ctx, "release after completion failure", "err", relErr)
			}
			return errors.Join(fmt.Errorf("complete drained job: %w", err), delivery.Nack(ctx))
		}
	}

	runErr := s.runTargets(ctx, claim, job, targets)
	if runErr != nil && !errors.Is(runErr, submission.ErrClaimSuperseded) {
		// Infrastructure failure mid-job. Give the job back and let the
		// queue redeliver; recorded target outcomes survive.
		if _, relErr := s.store.ReleaseJob(ctx, claim); relErr != nil {
			logger.ErrorContext(ctx, "release after run failure", "err", relErr)
		}
		return errors.Join(runErr, delivery.Nack(ctx))
	}

	if runErr == nil {
		// Return an incomplete job to pending so the next delivery
		// (typically a scheduled retry) claims it under a fresh generation.
		// Release refuses when the job completed or the claim moved on.
		if _, err := s.store.ReleaseJob(ctx, claim); err != nil {
			logger.ErrorContext(ctx, "release job", "err", err)
		}
	}

	if s.metrics != nil {
		s.metrics.Count("subscriber.delivery", 1, map[string]string{
			"targets": fmt.Sprintf("%d", len(targets)),
		})
	}
	return delivery.Ack(ctx)
}

// heldRedeliveryDelay spaces out redeliveries of a targeted retry whose job
// another worker currently holds.
const heldRedeliveryDelay = 5 * time.Second

// handleClaimHeldElsewhere resolves a delivery whose job another worker owns.
// A job-level dispatch is a duplicate and drops, but a targeted retry is the
// only carrier of that target's remaining work: while the target is still
// open the message must survive, so it is rescheduled instead of dropped.
func (s *Subscriber) handleClaimHeldElsewhere(ctx context.Context, logger *slog.Logger, delivery *core.Delivery) error {
	msg := delivery.Message
	if msg.TargetID == "" {
		logger.DebugContext(ctx, "job claimed elsewhere, dropping duplicate dispatch")
		return delivery.Ack(ctx)
	}

	target, err := s.store.GetTargetResult(ctx, msg.JobID, msg.TargetID)
	switch {
	case errors.Is(err, data.ErrTargetNotFound):
		return delivery.Ack(ctx)
	case err != nil:
		return errors.Join(fmt.Errorf("inspect held target: %w", err), delivery.Nack(ctx))
	case target.Status.Terminal():
		return delivery.Ack(ctx)
	}

	logger.DebugContext(ctx, "job claimed elsewhere, rescheduling targeted retry",
		"target_id", msg.TargetID)
	if err := s.queue.PublishDelayed(ctx, msg, heldRedeliveryDelay); err != nil {
		return errors.Join(fmt.Errorf("reschedule held retry: %w", err), delivery.Nack(ctx))
	}
	return delivery.Ack(ctx)
}

func hasOpenTargets(targets []*model.TargetResult) bool {
	for _, target := range targets {
		if !target.Status.Terminal() {
			return true
		}
	}
	return false
}

// resolveTargets maps a delivery to the target rows it covers: one row for a
// targeted retry message, all pending rows for a job-level dispatch.
func (s *Subscriber) resolveTargets(ctx context.Context, msg core.Message) ([]*model.TargetResult, error) {
	if msg.TargetID != "" {
		target, err := s.store.GetTargetResult(ctx, msg.JobID, msg.TargetID)
		if err != nil {
			return nil, err
		}
		return []*model.TargetResult{target}, nil
	}
	return s.store.ListPendingTargets(ctx, msg.JobID)
}

func (s *Subscriber) runTargets(ctx context.Context, claim core.Claim, job *model.Job, targets []*model.TargetResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, target := range targets {
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)

			return s.executor.Execute(gctx, ExecuteParams{
				Claim:  claim,
				Job:    job,
				Target: target,
			})
		})
	}
	return g.Wait()
}
