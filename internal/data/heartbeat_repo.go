package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// HeartbeatRepoOptions contains dependencies for HeartbeatRepo.
type HeartbeatRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
}

// HeartbeatRepo tracks worker liveness independently of job rows.
type HeartbeatRepo struct {
	db   *sql.DB
	time TimeProvider
}

// NewHeartbeatRepo creates a HeartbeatRepo with the given options.
func NewHeartbeatRepo(opts HeartbeatRepoOptions) (*HeartbeatRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("db is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}
	return &HeartbeatRepo{db: opts.DB, time: opts.TimeProvider}, nil
}

// Upsert records that workerID was alive just now, optionally bound to a job.
func (r *HeartbeatRepo) Upsert(ctx context.Context, workerID string, jobID *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (worker_id, job_id, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE
		SET job_id = EXCLUDED.job_id, last_seen_at = EXCLUDED.last_seen_at`,
		workerID, jobID, r.time.Now())
	return apperrors.MapDBError(err)
}

// LastSeen returns the worker's most recent heartbeat row.
func (r *HeartbeatRepo) LastSeen(ctx context.Context, workerID string) (*model.WorkerHeartbeat, error) {
	var hb model.WorkerHeartbeat
	err := r.db.QueryRowContext(ctx, `
		SELECT worker_id, job_id, last_seen_at
		FROM worker_heartbeats
		WHERE worker_id = $1`, workerID).
		Scan(&hb.WorkerID, &hb.JobID, &hb.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("no heartbeat for worker %s", workerID)
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &hb, nil
}

var _ core.HeartbeatRegistry = (*HeartbeatRepo)(nil)
