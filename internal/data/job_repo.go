// Package data contains the Postgres-backed repositories for the submission
// pipeline: the job store, the queue history trail, and the worker heartbeat
// registry.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data/pgxutil"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

const jobColumns = `id, customer_ref, business_data, status, targets_total, targets_done,
	claim_generation, worker_id, last_error, created_at, started_at, completed_at, last_heartbeat_at`

const targetColumns = `job_id, target_id, idempotency_key, status, attempt_count,
	error_class, last_error, result_ref, updated_at`

// JobRepoOptions contains dependencies for JobRepo.
type JobRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// JobRepo is the Postgres implementation of core.JobStore. All ownership
// transitions are conditional writes keyed on status, worker and claim
// generation, so a lost race surfaces as zero rows updated instead of a
// corrupted row.
type JobRepo struct {
	db     *sql.DB
	time   TimeProvider
	logger *slog.Logger
}

// NewJobRepo creates a JobRepo with the given options.
func NewJobRepo(opts JobRepoOptions) (*JobRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("db is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JobRepo{
		db:     opts.DB,
		time:   opts.TimeProvider,
		logger: opts.Logger.With("component", "job_repo"),
	}, nil
}

// MustNewJobRepo creates a JobRepo and panics on invalid options.
func MustNewJobRepo(opts JobRepoOptions) *JobRepo {
	repo, err := NewJobRepo(opts)
	if err != nil {
		panic(err)
	}
	return repo
}

// CreateJob inserts a job in the pending state along with one pending target
// result row per target. Idempotency keys are derived up front, before any
// attempt can run, so a later duplicate submission collapses onto the same row.
func (r *JobRepo) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid create job request")
	}

	payload, err := json.Marshal(req.BusinessData)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "encode business data")
	}

	var job *model.Job
	err = pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO jobs (customer_ref, business_data, status, targets_total)
			VALUES ($1, $2, $3, $4)
			RETURNING `+jobColumns,
			req.CustomerRef, payload, model.JobStatusPending, len(req.TargetIDs))
		job, err = scanJob(row)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		for _, targetID := range req.TargetIDs {
			key, keyErr := submission.DeriveKey(job.ID, targetID, payload)
			if keyErr != nil {
				return fmt.Errorf("derive key for target %s: %w", targetID, keyErr)
			}
			if _, execErr := tx.ExecContext(ctx, `
				INSERT INTO target_results (job_id, target_id, idempotency_key, status)
				VALUES ($1, $2, $3, $4)`,
				job.ID, targetID, key, model.TargetStatusPending); execErr != nil {
				return fmt.Errorf("insert target %s: %w", targetID, execErr)
			}
		}
		return nil
	}})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	r.logger.InfoContext(ctx, "job created",
		"job_id", job.ID, "customer_ref", job.CustomerRef, "targets", job.TargetsTotal)
	return job, nil
}

// GetJob fetches a job by ID.
func (r *JobRepo) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// Stats returns job counts per lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var stats model.JobStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM jobs`).
		Scan(&stats.Pending, &stats.InProgress, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	err := row.Scan(
		&job.ID, &job.CustomerRef, &job.BusinessData, &job.Status,
		&job.TargetsTotal, &job.TargetsDone, &job.ClaimGeneration,
		&job.WorkerID, &job.LastError, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.LastHeartbeatAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanTargetResult(row rowScanner) (*model.TargetResult, error) {
	var tr model.TargetResult
	err := row.Scan(
		&tr.JobID, &tr.TargetID, &tr.IdempotencyKey, &tr.Status,
		&tr.AttemptCount, &tr.ErrorClass, &tr.LastError, &tr.ResultRef,
		&tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func appendHistoryTx(ctx context.Context, tx *sql.Tx, jobID string, eventType model.HistoryEventType, eventData any) error {
	payload, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queue_history (job_id, event_type, event_data)
		VALUES ($1, $2, $3)`,
		jobID, eventType, payload); err != nil {
		return fmt.Errorf("append history event %s: %w", eventType, err)
	}
	return nil
}

var _ core.JobStore = (*JobRepo)(nil)
