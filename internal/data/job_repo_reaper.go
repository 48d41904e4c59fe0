package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data/pgxutil"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// staleRequeueLockID serializes concurrent stale sweeps across monitor
// replicas via a pg advisory xact lock.
const staleRequeueLockID = 874012

// RequeueStaleJobs returns in_progress jobs whose heartbeat is older than the
// threshold to pending, bumping each claim generation so the stale worker's
// in-flight writes are fenced out. It also picks up pending jobs with open
// targets whose heartbeat went equally silent: those lost their dispatch
// message (a requeue committed but the publish after it never happened), and
// re-publishing is idempotent. Only one sweeper runs at a time; replicas that
// lose the advisory lock return an empty batch.
func (r *JobRepo) RequeueStaleJobs(ctx context.Context, threshold time.Duration, batchSize int) ([]core.RequeuedJob, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	now := r.time.Now()
	cutoff := now.Add(-threshold)

	var requeued []core.RequeuedJob
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx,
			`SELECT pg_try_advisory_xact_lock($1)`, staleRequeueLockID).
			Scan(&locked); err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !locked {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
			WITH stale AS (
				SELECT id, worker_id, last_heartbeat_at, status
				FROM jobs
				WHERE last_heartbeat_at IS NOT NULL
				  AND last_heartbeat_at < $1
				  AND (status = $2
				       OR (status = $3 AND EXISTS (
				           SELECT 1 FROM target_results tr
				           WHERE tr.job_id = jobs.id AND tr.status IN ($4, $5))))
				ORDER BY last_heartbeat_at
				LIMIT $6
				FOR UPDATE OF jobs SKIP LOCKED
			)
			UPDATE jobs j
			SET status = $3,
			    worker_id = NULL,
			    claim_generation = j.claim_generation
			        + CASE WHEN stale.status = $2 THEN 1 ELSE 0 END
			FROM stale
			WHERE j.id = stale.id
			RETURNING j.id, stale.worker_id, stale.last_heartbeat_at`,
			cutoff, model.JobStatusInProgress, model.JobStatusPending,
			model.TargetStatusPending, model.TargetStatusFailedRetryable, batchSize)
		if err != nil {
			return fmt.Errorf("requeue stale jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				jobID    string
				workerID sql.NullString
				lastBeat time.Time
			)
			if err := rows.Scan(&jobID, &workerID, &lastBeat); err != nil {
				return fmt.Errorf("scan stale job: %w", err)
			}
			requeued = append(requeued, core.RequeuedJob{
				JobID:         jobID,
				StaleWorkerID: workerID.String,
				StaleFor:      now.Sub(lastBeat),
			})
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range requeued {
			targetIDs, err := pendingTargetIDsTx(ctx, tx, requeued[i].JobID)
			if err != nil {
				return err
			}
			requeued[i].TargetIDs = targetIDs

			if err := appendHistoryTx(ctx, tx, requeued[i].JobID, model.HistoryEventRequeued, map[string]any{
				"stale_worker_id": requeued[i].StaleWorkerID,
				"stale_for_ms":    requeued[i].StaleFor.Milliseconds(),
				"targets_left":    len(targetIDs),
			}); err != nil {
				return err
			}
		}
		return nil
	}})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	for _, rq := range requeued {
		r.logger.WarnContext(ctx, "stale job requeued",
			"job_id", rq.JobID, "stale_worker_id", rq.StaleWorkerID,
			"stale_for", rq.StaleFor, "targets_left", len(rq.TargetIDs))
	}
	return requeued, nil
}

func pendingTargetIDsTx(ctx context.Context, tx *sql.Tx, jobID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT target_id FROM target_results
		WHERE job_id = $1 AND status IN ($2, $3)
		ORDER BY target_id`,
		jobID, model.TargetStatusPending, model.TargetStatusFailedRetryable)
	if err != nil {
		return nil, fmt.Errorf("list pending targets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
