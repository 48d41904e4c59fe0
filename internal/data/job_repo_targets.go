package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data/pgxutil"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// GetTargetResult fetches one (job, target) result row.
func (r *JobRepo) GetTargetResult(ctx context.Context, jobID, targetID string) (*model.TargetResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+targetColumns+`
		FROM target_results
		WHERE job_id = $1 AND target_id = $2`, jobID, targetID)
	tr, err := scanTargetResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return tr, nil
}

// ListPendingTargets returns the job's targets that still need work, in
// target order: rows that are pending or failed_retryable.
func (r *JobRepo) ListPendingTargets(ctx context.Context, jobID string) ([]*model.TargetResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+targetColumns+`
		FROM target_results
		WHERE job_id = $1 AND status IN ($2, $3)
		ORDER BY target_id`,
		jobID, model.TargetStatusPending, model.TargetStatusFailedRetryable)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var results []*model.TargetResult
	for rows.Next() {
		tr, scanErr := scanTargetResult(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return results, nil
}

// RecordTargetResult writes one attempt outcome under the caller's claim.
// The write is fenced on the job's claim generation and collapses onto the
// idempotency key: once a target is terminal, later writes return the stored
// row unchanged. Terminal transitions increment the job's done counter in the
// same transaction.
func (r *JobRepo) RecordTargetResult(ctx context.Context, params core.RecordTargetResultParams) (*model.TargetResult, error) {
	if !params.Status.Valid() || params.Status == model.TargetStatusPending {
		return nil, apperrors.Validationf("invalid target status %q", params.Status)
	}

	now := r.time.Now()
	var result *model.TargetResult
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		if err := r.checkClaimTx(ctx, tx, params.Claim); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+targetColumns+`
			FROM target_results
			WHERE job_id = $1 AND idempotency_key = $2
			FOR UPDATE`,
			params.Claim.JobID, params.IdempotencyKey)
		existing, err := scanTargetResult(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTargetNotFound
		}
		if err != nil {
			return fmt.Errorf("lock target result: %w", err)
		}
		if existing.Status.Terminal() {
			result = existing
			return nil
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE target_results
			SET status = $1,
			    attempt_count = GREATEST(attempt_count, $2),
			    error_class = $3,
			    last_error = $4,
			    result_ref = $5,
			    updated_at = $6
			WHERE job_id = $7 AND idempotency_key = $8
			RETURNING `+targetColumns,
			params.Status, params.AttemptCount,
			nullString(string(params.ErrorClass)), nullString(params.ErrorMessage),
			nullString(params.ResultRef), now,
			params.Claim.JobID, params.IdempotencyKey)
		result, err = scanTargetResult(row)
		if err != nil {
			return fmt.Errorf("update target result: %w", err)
		}

		if !params.Status.Terminal() {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET targets_done = targets_done + 1 WHERE id = $1`,
			params.Claim.JobID); err != nil {
			return fmt.Errorf("increment targets_done: %w", err)
		}

		// Exhausted targets get their history event from the dead-letter
		// handler, which owns that part of the trail.
		if params.Status != model.TargetStatusSuccess {
			return nil
		}
		return appendHistoryTx(ctx, tx, params.Claim.JobID, model.HistoryEventTargetSucceeded, map[string]any{
			"target_id":     params.TargetID,
			"attempt_count": params.AttemptCount,
		})
	}})
	if err != nil {
		if errors.Is(err, submission.ErrClaimSuperseded) ||
			errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrTargetNotFound) {
			return nil, err
		}
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// checkClaimTx locks the job row and verifies the caller still owns it.
func (r *JobRepo) checkClaimTx(ctx context.Context, tx *sql.Tx, claim core.Claim) error {
	var (
		status     model.JobStatus
		workerID   sql.NullString
		generation int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT status, worker_id, claim_generation
		FROM jobs WHERE id = $1
		FOR UPDATE`, claim.JobID).
		Scan(&status, &workerID, &generation)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job row: %w", err)
	}
	if status != model.JobStatusInProgress ||
		!workerID.Valid || workerID.String != claim.WorkerID ||
		generation != claim.Generation {
		return submission.ErrClaimSuperseded
	}
	return nil
}

// TryCompleteJob transitions the job to completed once every target is
// terminal. It is a compare-and-set: any racer can call it, exactly one wins,
// and the rest report false without error.
func (r *JobRepo) TryCompleteJob(ctx context.Context, jobID string) (bool, error) {
	now := r.time.Now()
	var won bool
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		var (
			done  int
			total int
		)
		err := tx.QueryRowContext(ctx, `
			UPDATE jobs
			SET status = $1, completed_at = $2, worker_id = NULL
			WHERE id = $3 AND status = $4 AND targets_done >= targets_total
			RETURNING targets_done, targets_total`,
			model.JobStatusCompleted, now, jobID, model.JobStatusInProgress).
			Scan(&done, &total)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		won = true

		var succeeded int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM target_results
			WHERE job_id = $1 AND status = $2`,
			jobID, model.TargetStatusSuccess).Scan(&succeeded); err != nil {
			return fmt.Errorf("count successes: %w", err)
		}

		return appendHistoryTx(ctx, tx, jobID, model.HistoryEventJobCompleted, map[string]any{
			"targets_total":     total,
			"targets_succeeded": succeeded,
			"targets_failed":    total - succeeded,
		})
	}})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	if won {
		r.logger.InfoContext(ctx, "job completed", "job_id", jobID)
	}
	return won, nil
}

// FailJob marks a job failed for a pipeline-internal fault. Per-target
// submission failures never use this path.
func (r *JobRepo) FailJob(ctx context.Context, jobID, errMsg string) (bool, error) {
	now := r.time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, completed_at = $3, worker_id = NULL
		WHERE id = $4 AND status IN ($5, $6)`,
		model.JobStatusFailed, errMsg, now, jobID,
		model.JobStatusPending, model.JobStatusInProgress)
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
	r.logger.WarnContext(ctx, "job failed", "job_id", jobID, "err", errMsg)
	return true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
