package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/config"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/notify"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/service/failurenotifier"
)

// DLQHandlerOptions groups dependencies for DLQHandler.
type DLQHandlerOptions struct {
	Queue    core.Queue               // Required: dead-letter source
	Store    core.JobStore            // Required: job/target context for alerts
	History  core.HistoryRepository   // Required: audit trail
	Notifier *failurenotifier.Service // Required: alert fan-out
	// Redis backs the cross-instance alert suppression marker.
	Redis  *redis.Client
	Config config.DLQConfig

	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink
}

// DLQHandler consumes exhausted targets from the dead-letter queue, records
// the exhaustion in the history trail, and alerts operators. It never
// retries; dead letters exist for humans.
type DLQHandler struct {
	queue    core.Queue
	store    core.JobStore
	history  core.HistoryRepository
	notifier *failurenotifier.Service
	redis    *redis.Client
	config   config.DLQConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewDLQHandler constructs a DLQHandler.
func NewDLQHandler(opts DLQHandlerOptions) (*DLQHandler, error) {
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.History == nil {
		return nil, errors.New("HistoryRepository is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("failure notifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &DLQHandler{
		queue:    opts.Queue,
		store:    opts.Store,
		history:  opts.History,
		notifier: opts.Notifier,
		redis:    opts.Redis,
		config:   opts.Config,
		logger:   opts.Logger.With("component", "dlq_handler"),
		metrics:  opts.Metrics,
	}, nil
}

// MustNewDLQHandler constructs a DLQHandler and panics on invalid options.
func MustNewDLQHandler(opts DLQHandlerOptions) *DLQHandler {
	h, err := NewDLQHandler(opts)
	if err != nil {
		panic(err)
	}
	return h
}

// Run consumes dead letters until the context is cancelled. Returns nil on
// graceful shutdown.
func (h *DLQHandler) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "starting dead-letter handler",
		"alert_suppression", h.config.AlertSuppression)

	for {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}

		delivery, err := h.queue.ReceiveDeadLetter(ctx)
		if errors.Is(err, model.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.logger.ErrorContext(ctx, "dead-letter receive failed", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := h.handle(ctx, delivery); err != nil {
			h.logger.ErrorContext(ctx, "dead-letter handling failed",
				"job_id", delivery.Message.JobID, "err", err)
		}
	}
}

func (h *DLQHandler) handle(ctx context.Context, delivery *core.Delivery) error {
	msg := delivery.Message
	logger := h.logger.With("job_id", msg.JobID, "target_id", msg.TargetID)

	payload := notify.SubmissionFailurePayload{
		JobID:        msg.JobID,
		TargetID:     msg.TargetID,
		AttemptCount: msg.AttemptCount,
		Severity:     notify.SeverityCritical,
		OccurredAt:   time.Now(),
	}

	// Enrich the alert from the store when reachable. A dead letter must
	// still alert even when the store is not.
	if target, err := h.store.GetTargetResult(ctx, msg.JobID, msg.TargetID); err == nil {
		if target.ErrorClass != nil {
			payload.ErrorClass = *target.ErrorClass
		}
		if target.LastError != nil {
			payload.Error = *target.LastError
		}
		payload.AttemptCount = target.AttemptCount
	} else if !errors.Is(err, data.ErrTargetNotFound) {
		logger.WarnContext(ctx, "could not load target for alert", "err", err)
	}
	if job, err := h.store.GetJob(ctx, msg.JobID); err == nil {
		payload.CustomerRef = job.CustomerRef
	}

	if err := h.history.Append(ctx, msg.JobID, model.HistoryEventTargetExhausted, map[string]any{
		"target_id":     msg.TargetID,
		"attempt_count": payload.AttemptCount,
		"error_class":   payload.ErrorClass,
	}); err != nil {
		logger.WarnContext(ctx, "failed to record exhaustion history", "err", err)
	}

	suppressed := h.alertSuppressed(ctx, msg.JobID)
	if !suppressed {
		h.notifier.NotifySubmissionFailure(ctx, payload)
	} else {
		logger.DebugContext(ctx, "alert suppressed within window")
	}

	if h.metrics != nil {
		result := "alerted"
		if suppressed {
			result = "suppressed"
		}
		h.metrics.Count("dlq.handled", 1, map[string]string{"result": result})
	}

	logger.WarnContext(ctx, "dead letter processed",
		"attempt_count", payload.AttemptCount,
		"error_class", payload.ErrorClass,
		"suppressed", suppressed,
	)
	return delivery.Ack(ctx)
}

// alertSuppressed claims the per-job alert slot with an atomic SET NX + TTL
// marker. Exactly one handler instance wins per window; Redis being down
// fails open toward alerting.
func (h *DLQHandler) alertSuppressed(ctx context.Context, jobID string) bool {
	if h.redis == nil {
		return false
	}
	key := fmt.Sprintf("directorybolt:dlq:alerted:%s", jobID)
	won, err := h.redis.SetNX(ctx, key, "1", h.config.AlertSuppression).Result()
	if err != nil {
		h.logger.WarnContext(ctx, "alert suppression check failed", "err", err)
		return false
	}
	return !won
}
