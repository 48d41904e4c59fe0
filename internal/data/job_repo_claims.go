package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data/pgxutil"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// ClaimJob moves a pending job to in_progress for workerID and bumps the
// claim generation. The returned Claim is the fencing token every subsequent
// write from this worker must present. Claiming a job that is not pending
// returns ErrJobAlreadyClaimed or ErrJobFinished depending on its state.
func (r *JobRepo) ClaimJob(ctx context.Context, jobID, workerID string) (*model.Job, core.Claim, error) {
	now := r.time.Now()
	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE jobs
			SET status = $1,
			    worker_id = $2,
			    claim_generation = claim_generation + 1,
			    started_at = COALESCE(started_at, $3),
			    last_heartbeat_at = $3
			WHERE id = $4 AND status = $5
			RETURNING `+jobColumns,
			model.JobStatusInProgress, workerID, now, jobID, model.JobStatusPending)

		var scanErr error
		job, scanErr = scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return r.classifyClaimMiss(ctx, tx, jobID)
		}
		if scanErr != nil {
			return fmt.Errorf("claim job: %w", scanErr)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO worker_heartbeats (worker_id, job_id, last_seen_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (worker_id) DO UPDATE
			SET job_id = EXCLUDED.job_id, last_seen_at = EXCLUDED.last_seen_at`,
			workerID, jobID, now); err != nil {
			return fmt.Errorf("record worker heartbeat: %w", err)
		}

		return appendHistoryTx(ctx, tx, jobID, model.HistoryEventClaimed, map[string]any{
			"worker_id":  workerID,
			"generation": job.ClaimGeneration,
		})
	}})
	if err != nil {
		return nil, core.Claim{}, apperrors.MapDBError(err)
	}

	claim := core.Claim{JobID: jobID, WorkerID: workerID, Generation: job.ClaimGeneration}
	r.logger.InfoContext(ctx, "job claimed",
		"job_id", jobID, "worker_id", workerID, "generation", claim.Generation)
	return job, claim, nil
}

// classifyClaimMiss turns a zero-row claim update into the right sentinel.
func (r *JobRepo) classifyClaimMiss(ctx context.Context, tx *sql.Tx, jobID string) error {
	var status model.JobStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect job %s: %w", jobID, err)
	}
	if status.Terminal() {
		return ErrJobFinished
	}
	return ErrJobAlreadyClaimed
}

// ReleaseJob returns an incomplete in_progress job to pending so a later
// delivery (typically a delayed retry) can claim it fresh. The release only
// applies while the caller's claim is still current; it reports false when
// the claim was superseded or the job is no longer in flight.
func (r *JobRepo) ReleaseJob(ctx context.Context, claim core.Claim) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, worker_id = NULL
		WHERE id = $2 AND status = $3 AND worker_id = $4
		  AND claim_generation = $5 AND targets_done < targets_total`,
		model.JobStatusPending, claim.JobID, model.JobStatusInProgress,
		claim.WorkerID, claim.Generation)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	if n == 0 {
		return false, nil
	}
	r.logger.DebugContext(ctx, "job released",
		"job_id", claim.JobID, "worker_id", claim.WorkerID)
	return true, nil
}

// Heartbeat refreshes the job's liveness timestamp under the caller's claim
// and upserts the worker heartbeat row. It reports false without error when
// the claim is no longer current, which tells the worker to stop.
func (r *JobRepo) Heartbeat(ctx context.Context, claim core.Claim) (bool, error) {
	now := r.time.Now()
	var current bool
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET last_heartbeat_at = $1
			WHERE id = $2 AND status = $3 AND worker_id = $4 AND claim_generation = $5`,
			now, claim.JobID, model.JobStatusInProgress, claim.WorkerID, claim.Generation)
		if err != nil {
			return fmt.Errorf("refresh job heartbeat: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		current = n > 0

		_, err = tx.ExecContext(ctx, `
			INSERT INTO worker_heartbeats (worker_id, job_id, last_seen_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (worker_id) DO UPDATE
			SET job_id = EXCLUDED.job_id, last_seen_at = EXCLUDED.last_seen_at`,
			claim.WorkerID, claim.JobID, now)
		if err != nil {
			return fmt.Errorf("record worker heartbeat: %w", err)
		}
		return nil
	}})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return current, nil
}
