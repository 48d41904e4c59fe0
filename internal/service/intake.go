package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
)

// IntakeOptions groups dependencies for Intake.
type IntakeOptions struct {
	Store  core.JobStore // Required: durable job store
	Queue  core.Queue    // Required: dispatch queue
	Logger *slog.Logger  // Optional: structured logger
}

// Intake accepts new submission jobs: it persists the job with its targets
// and publishes the initial job-level dispatch message.
type Intake struct {
	store  core.JobStore
	queue  core.Queue
	logger *slog.Logger
}

// NewIntake constructs an Intake.
func NewIntake(opts IntakeOptions) (*Intake, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Intake{
		store:  opts.Store,
		queue:  opts.Queue,
		logger: opts.Logger.With("component", "intake"),
	}, nil
}

// SubmitJob creates the job and dispatches it. The job row is durable before
// the message exists, so a publish failure leaves a pending job the caller
// can re-dispatch, never a message without a job.
func (i *Intake) SubmitJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := i.store.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := i.queue.Publish(ctx, core.Message{JobID: job.ID}); err != nil {
		return job, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	i.logger.InfoContext(ctx, "job dispatched",
		"job_id", job.ID, "customer_ref", job.CustomerRef, "targets", job.TargetsTotal)
	return job, nil
}

// JobStatus returns the job along with the targets still awaiting a
// terminal outcome.
func (i *Intake) JobStatus(ctx context.Context, jobID string) (*model.Job, []*model.TargetResult, error) {
	job, err := i.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	remaining, err := i.store.ListPendingTargets(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, remaining, nil
}
