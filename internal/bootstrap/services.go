package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/config"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/adapters/agent"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/notify/slack"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/queue"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/service"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/service/failurenotifier"
)

// ServiceDeps carries the shared infrastructure every service builds on.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient *redis.Client
	Logger      *slog.Logger
}

// ServiceContainer holds the constructed services for the enabled modes.
type ServiceContainer struct {
	Intake     *service.Intake
	Subscriber *service.Subscriber
	Monitor    *service.Monitor
	DLQHandler *service.DLQHandler

	Metrics  *statsd.Client
	Notifier *failurenotifier.Service
}

// NewServices wires repositories, the queue, observability, and the enabled
// services from shared infrastructure.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	cfg := deps.Config
	logger := deps.Logger

	metricsSink, err := buildMetrics(logger, cfg.Observability.Metrics)
	if err != nil {
		return nil, err
	}
	notifier := buildFailureNotifier(logger, cfg.Observability.Notifications)

	jobRepo, err := data.NewJobRepo(data.JobRepoOptions{
		DB:     deps.DB,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create job repo: %w", err)
	}
	historyRepo, err := data.NewHistoryRepo(data.HistoryRepoOptions{
		DB:     deps.DB,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create history repo: %w", err)
	}
	heartbeatRepo, err := data.NewHeartbeatRepo(data.HeartbeatRepoOptions{DB: deps.DB})
	if err != nil {
		return nil, fmt.Errorf("create heartbeat repo: %w", err)
	}

	submissionQueue, err := queue.NewRedisQueue(queue.RedisQueueOptions{
		Client:      deps.RedisClient,
		Namespace:   cfg.Queue.Namespace,
		PollTimeout: cfg.Queue.PollTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	agentClient, err := agent.NewClient(agent.ClientOptions{
		BaseURL: cfg.Agent.BaseURL,
		APIKey:  cfg.Agent.APIKey,
		Timeout: cfg.Agent.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent client: %w", err)
	}

	retryPolicy, err := submissionRetryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Store:             jobRepo,
		Queue:             submissionQueue,
		History:           historyRepo,
		Operation:         agentClient,
		Retry:             retryPolicy,
		SubmitTimeout:     cfg.Subscriber.SubmitTimeout,
		HeartbeatInterval: cfg.Subscriber.HeartbeatInterval,
		Logger:            logger,
		Metrics:           metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	intake, err := service.NewIntake(service.IntakeOptions{
		Store:  jobRepo,
		Queue:  submissionQueue,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create intake: %w", err)
	}

	subscriber, err := service.NewSubscriber(service.SubscriberOptions{
		Store:       jobRepo,
		Queue:       submissionQueue,
		Executor:    executor,
		Registry:    heartbeatRepo,
		WorkerID:    cfg.Subscriber.WorkerID,
		Concurrency: cfg.Subscriber.Concurrency,
		Logger:      logger,
		Metrics:     metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	monitor, err := service.NewMonitor(service.MonitorOptions{
		Store:   jobRepo,
		Queue:   submissionQueue,
		Config:  cfg.Monitor,
		Logger:  logger,
		Metrics: metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}

	dlqHandler, err := service.NewDLQHandler(service.DLQHandlerOptions{
		Queue:    submissionQueue,
		Store:    jobRepo,
		History:  historyRepo,
		Notifier: notifier,
		Redis:    deps.RedisClient,
		Config:   cfg.DLQ,
		Logger:   logger,
		Metrics:  metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("create dlq handler: %w", err)
	}

	return &ServiceContainer{
		Intake:     intake,
		Subscriber: subscriber,
		Monitor:    monitor,
		DLQHandler: dlqHandler,
		Metrics:    metricsSink,
		Notifier:   notifier,
	}, nil
}

func submissionRetryPolicy(cfg config.RetryConfig) (*submission.RetryPolicy, error) {
	policy, err := submission.NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay)
	if err != nil {
		return nil, fmt.Errorf("create retry policy: %w", err)
	}
	return policy, nil
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) (*statsd.Client, error) {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  "directorybolt",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	return client, nil
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	var sinks []failurenotifier.SinkRegistration

	if cfg.Slack.Enabled {
		slackSink, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Warn("slack sink disabled", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: slackSink})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}

// RunServicesWithShutdown runs the enabled services until one fails or a
// SIGINT/SIGTERM arrives, then waits for the rest to drain.
func RunServicesWithShutdown(ctx context.Context, deps *ServiceDeps, services *ServiceContainer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := deps.Logger
	enabled, err := deps.Config.GetEnabledServices()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeSubscriber] {
		g.Go(func() error {
			return services.Subscriber.Run(gctx)
		})
	}
	if enabled[config.ServiceModeMonitor] {
		g.Go(func() error {
			return services.Monitor.Run(gctx)
		})
	}
	if enabled[config.ServiceModeDLQHandler] {
		g.Go(func() error {
			return services.DLQHandler.Run(gctx)
		})
	}

	logger.InfoContext(ctx, "services running", "enabled", GetEnabledServices(deps.Config))
	err = g.Wait()

	if closeErr := services.Metrics.Close(); closeErr != nil {
		logger.Warn("close statsd client", "error", closeErr)
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("service failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
