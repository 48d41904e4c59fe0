package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/config"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/metrics"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
)

// MonitorOptions groups dependencies for Monitor.
type MonitorOptions struct {
	Store   core.JobStore        // Required: durable job store
	Queue   core.Queue           // Required: dispatch for requeued jobs
	Config  config.MonitorConfig // Required: sweep configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink
}

// Monitor periodically sweeps for in_progress jobs whose heartbeat went
// silent, returns them to pending under a fresh claim generation, and
// publishes a dispatch message so a live worker picks them up.
type Monitor struct {
	store   core.JobStore
	queue   core.Queue
	config  config.MonitorConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewMonitor constructs a Monitor.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		store:   opts.Store,
		queue:   opts.Queue,
		config:  opts.Config,
		logger:  opts.Logger.With("component", "monitor"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewMonitor constructs a Monitor and panics on invalid options.
func MustNewMonitor(opts MonitorOptions) *Monitor {
	m, err := NewMonitor(opts)
	if err != nil {
		panic(err)
	}
	return m
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting stale-job monitor",
		"interval", m.config.Interval,
		"stale_threshold", m.config.StaleThreshold,
		"batch_size", m.config.BatchSize,
	)

	m.waitWithJitter(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	if err := m.sweep(ctx); err != nil {
		m.logSweepError(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				m.logSweepError(ctx, err)
			}
		}
	}
}

// waitWithJitter delays startup by up to 10% of the interval so replicas
// started together do not sweep in lockstep.
func (m *Monitor) waitWithJitter(ctx context.Context) {
	maxJitter := int64(m.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		m.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// sweep requeues stale jobs in batches until a sweep comes back empty, then
// publishes one job-level dispatch message per requeued job.
func (m *Monitor) sweep(ctx context.Context) error {
	start := time.Now()
	var total int

	for {
		requeued, err := m.store.RequeueStaleJobs(ctx, m.config.StaleThreshold, m.config.BatchSize)
		if err != nil {
			m.emitSweepMetrics(total, time.Since(start), err)
			return err
		}
		if len(requeued) == 0 {
			break
		}
		total += len(requeued)

		for _, rq := range requeued {
			m.logger.WarnContext(ctx, "requeuing stale job",
				"job_id", rq.JobID,
				"stale_worker_id", rq.StaleWorkerID,
				"stale_for", rq.StaleFor,
				"targets_left", len(rq.TargetIDs),
			)
			if err := m.queue.Publish(ctx, core.Message{JobID: rq.JobID}); err != nil {
				m.emitSweepMetrics(total, time.Since(start), err)
				return err
			}
		}

		if ctx.Err() != nil {
			m.emitSweepMetrics(total, time.Since(start), ctx.Err())
			return ctx.Err()
		}
	}

	m.emitSweepMetrics(total, time.Since(start), nil)
	if total > 0 {
		m.logger.InfoContext(ctx, "stale sweep finished", "requeued", total)
	}
	return nil
}

func (m *Monitor) emitSweepMetrics(count int, elapsed time.Duration, err error) {
	if m.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}

	m.metrics.Count("monitor.sweep", 1, tags)
	m.metrics.Timing("monitor.sweep_duration", elapsed, metrics.CloneTags(tags))
	if count > 0 {
		m.metrics.Count("monitor.jobs_requeued", int64(count), nil)
	}
}

func (m *Monitor) logSweepError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.logger.DebugContext(ctx, "sweep cancelled by context", "error", err)
		return
	}
	m.logger.ErrorContext(ctx, "sweep failed", "error", err)
}
