// Package service contains the long-running pipeline loops: the queue
// subscriber, the submission executor it drives, the stale-job monitor, and
// the dead-letter handler.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/metrics"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
)

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Store     core.JobStore            // Required: durable job store
	Queue     core.Queue               // Required: queue for delayed retries and dead letters
	History   core.HistoryRepository   // Required: audit trail
	Operation core.SubmissionOperation // Required: external submission collaborator
	Retry     *submission.RetryPolicy  // Optional: defaults to the standard policy

	// SubmitTimeout bounds one external submission attempt.
	SubmitTimeout time.Duration
	// HeartbeatInterval is how often the job heartbeat is refreshed while an
	// external call is in flight. Must be well under the stale threshold.
	HeartbeatInterval time.Duration

	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink
}

// Executor runs one submission attempt for one target under a worker's
// claim. Everything that makes redelivery safe lives here: the idempotent
// short-circuit, the pre-derived key presented on every write, and the
// store-authoritative attempt count.
type Executor struct {
	store             core.JobStore
	queue             core.Queue
	history           core.HistoryRepository
	op                core.SubmissionOperation
	retry             *submission.RetryPolicy
	submitTimeout     time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger
	metrics           statsd.Sink
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.History == nil {
		return nil, errors.New("HistoryRepository is required")
	}
	if opts.Operation == nil {
		return nil, errors.New("SubmissionOperation is required")
	}
	if opts.Retry == nil {
		opts.Retry = submission.MustNewRetryPolicy(0, 0, 0)
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 2 * time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		store:             opts.Store,
		queue:             opts.Queue,
		history:           opts.History,
		op:                opts.Operation,
		retry:             opts.Retry,
		submitTimeout:     opts.SubmitTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
		logger:            opts.Logger.With("component", "executor"),
		metrics:           opts.Metrics,
	}, nil
}

// MustNewExecutor constructs an Executor and panics on invalid options.
func MustNewExecutor(opts ExecutorOptions) *Executor {
	e, err := NewExecutor(opts)
	if err != nil {
		panic(err)
	}
	return e
}

// ExecuteParams identifies one target attempt under an owned claim.
type ExecuteParams struct {
	Claim  core.Claim
	Job    *model.Job
	Target *model.TargetResult
}

// Execute runs one submission attempt. It returns submission.ErrClaimSuperseded
// when the claim was fenced out mid-flight; any other error is an
// infrastructure failure the caller should surface.
func (e *Executor) Execute(ctx context.Context, params ExecuteParams) error {
	target := params.Target
	logger := e.logger.With(
		"job_id", params.Claim.JobID,
		"target_id", target.TargetID,
		"worker_id", params.Claim.WorkerID,
	)

	// A durably recorded outcome makes redelivery a no-op.
	if target.Status.Terminal() {
		logger.DebugContext(ctx, "target already terminal, skipping",
			"status", target.Status)
		return nil
	}

	attempt := target.AttemptCount + 1
	if err := e.history.Append(ctx, params.Claim.JobID, model.HistoryEventTargetAttempted, map[string]any{
		"target_id": target.TargetID,
		"attempt":   attempt,
	}); err != nil {
		logger.WarnContext(ctx, "failed to record attempt history", "err", err)
	}

	start := time.Now()
	resultRef, submitErr := e.submitWithHeartbeat(ctx, params)
	elapsed := time.Since(start)

	if submitErr == nil {
		return e.recordSuccess(ctx, logger, params, attempt, resultRef, elapsed)
	}
	return e.recordFailure(ctx, logger, params, attempt, submitErr, elapsed)
}

// submitWithHeartbeat invokes the external operation under the attempt
// timeout while refreshing the job heartbeat. A fenced-out heartbeat cancels
// the attempt, since its result could no longer be recorded anyway.
func (e *Executor) submitWithHeartbeat(ctx context.Context, params ExecuteParams) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(e.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-submitCtx.Done():
				return
			case <-ticker.C:
				current, err := e.store.Heartbeat(submitCtx, params.Claim)
				if err != nil {
					e.logger.WarnContext(submitCtx, "heartbeat failed",
						"job_id", params.Claim.JobID, "err", err)
					continue
				}
				if !current {
					e.logger.WarnContext(submitCtx, "claim superseded, canceling attempt",
						"job_id", params.Claim.JobID, "target_id", params.Target.TargetID)
					cancel()
					return
				}
			}
		}
	}()

	return e.op.Submit(submitCtx, params.Job.BusinessData, params.Target.TargetID)
}

func (e *Executor) recordSuccess(ctx context.Context, logger *slog.Logger, params ExecuteParams, attempt int, resultRef string, elapsed time.Duration) error {
	_, err := e.store.RecordTargetResult(ctx, core.RecordTargetResultParams{
		Claim:          params.Claim,
		TargetID:       params.Target.TargetID,
		IdempotencyKey: params.Target.IdempotencyKey,
		Status:         model.TargetStatusSuccess,
		AttemptCount:   attempt,
		ResultRef:      resultRef,
	})
	if err != nil {
		if errors.Is(err, submission.ErrClaimSuperseded) {
			logger.WarnContext(ctx, "success not recorded, claim superseded")
			return err
		}
		return fmt.Errorf("record success: %w", err)
	}

	logger.InfoContext(ctx, "target submitted",
		"attempt", attempt, "result_ref", resultRef, "elapsed", elapsed)
	metrics.EmitSubmissionAttempt(e.metrics, metrics.SubmissionMetric{
		TargetID: params.Target.TargetID,
		Outcome:  metrics.ResultSuccess,
		Attempt:  attempt,
		Duration: elapsed,
	})

	if _, err := e.store.TryCompleteJob(ctx, params.Claim.JobID); err != nil {
		return fmt.Errorf("try complete job: %w", err)
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, logger *slog.Logger, params ExecuteParams, attempt int, submitErr error, elapsed time.Duration) error {
	class := submission.Classify(submitErr)
	retryable := e.retry.ShouldRetry(attempt, class)

	status := model.TargetStatusFailedTerminal
	if retryable {
		status = model.TargetStatusFailedRetryable
	}

	_, err := e.store.RecordTargetResult(ctx, core.RecordTargetResultParams{
		Claim:          params.Claim,
		TargetID:       params.Target.TargetID,
		IdempotencyKey: params.Target.IdempotencyKey,
		Status:         status,
		AttemptCount:   attempt,
		ErrorClass:     class,
		ErrorMessage:   submitErr.Error(),
	})
	if err != nil {
		if errors.Is(err, submission.ErrClaimSuperseded) {
			logger.WarnContext(ctx, "failure not recorded, claim superseded")
			return err
		}
		return fmt.Errorf("record failure: %w", err)
	}

	logger.WarnContext(ctx, "target attempt failed",
		"attempt", attempt, "class", class, "retryable", retryable,
		"elapsed", elapsed, "err", submitErr)
	metrics.EmitSubmissionAttempt(e.metrics, metrics.SubmissionMetric{
		TargetID:   params.Target.TargetID,
		Outcome:    metrics.ResultError,
		ErrorClass: string(class),
		Attempt:    attempt,
		Duration:   elapsed,
		Err:        submitErr,
	})

	msg := core.Message{
		JobID:        params.Claim.JobID,
		TargetID:     params.Target.TargetID,
		AttemptCount: attempt,
	}

	if retryable {
		delay := e.retry.NextDelay(attempt)
		if err := e.queue.PublishDelayed(ctx, msg, delay); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		logger.InfoContext(ctx, "retry scheduled", "attempt", attempt, "delay", delay)
		return nil
	}

	if _, err := e.store.TryCompleteJob(ctx, params.Claim.JobID); err != nil {
		return fmt.Errorf("try complete job: %w", err)
	}
	if err := e.queue.DeadLetter(ctx, msg); err != nil {
		return fmt.Errorf("dead-letter target: %w", err)
	}
	logger.ErrorContext(ctx, "target exhausted, dead-lettered",
		"attempt", attempt, "class", class)
	return nil
}
