package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	apperrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/errors"
)

// HistoryRepoOptions contains dependencies for HistoryRepo.
type HistoryRepoOptions struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// HistoryRepo persists the append-only queue history trail.
type HistoryRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepo creates a HistoryRepo with the given options.
func NewHistoryRepo(opts HistoryRepoOptions) (*HistoryRepo, error) {
	if opts.DB == nil {
		return nil, errors.New("db is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HistoryRepo{
		db:     opts.DB,
		logger: opts.Logger.With("component", "history_repo"),
	}, nil
}

// Append writes one history event. eventData is marshaled to JSON; nil
// records an empty object.
func (r *HistoryRepo) Append(ctx context.Context, jobID string, eventType model.HistoryEventType, eventData any) error {
	if !eventType.Valid() {
		return apperrors.Validationf("invalid history event type %q", eventType)
	}
	payload := json.RawMessage(`{}`)
	if eventData != nil {
		b, err := json.Marshal(eventData)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "encode history event data")
		}
		payload = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_history (job_id, event_type, event_data)
		VALUES ($1, $2, $3)`,
		jobID, eventType, payload)
	return apperrors.MapDBError(err)
}

// ListByJob returns the job's history events, newest first.
func (r *HistoryRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.HistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, event_data, created_at
		FROM queue_history
		WHERE job_id = $1
		ORDER BY id DESC
		LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var events []*model.HistoryEvent
	for rows.Next() {
		var ev model.HistoryEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.EventType, &ev.EventData, &ev.CreatedAt); err != nil {
			return nil, apperrors.MapDBError(err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return events, nil
}

var _ core.HistoryRepository = (*HistoryRepo)(nil)
