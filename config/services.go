package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeSubscriber runs the queue subscriber that executes
	// submission jobs.
	ServiceModeSubscriber ServiceMode = "subscriber"
	// ServiceModeMonitor runs the stale-job monitor.
	ServiceModeMonitor ServiceMode = "monitor"
	// ServiceModeDLQHandler runs the dead-letter queue handler.
	ServiceModeDLQHandler ServiceMode = "dlq-handler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeSubscriber,
		ServiceModeMonitor,
		ServiceModeDLQHandler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. Unknown names are an error.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	if servicesStr == "" {
		return nil, errors.New("at least one service must be specified")
	}

	services := make(map[ServiceMode]bool)

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeSubscriber, ServiceModeMonitor, ServiceModeDLQHandler:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: subscriber, monitor, dlq-handler)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// QueueConfig contains Redis queue configuration.
type QueueConfig struct {
	// Namespace prefixes every Redis key the queue uses.
	Namespace string `env:"QUEUE_NAMESPACE" envDefault:"directorybolt:queue:submissions"`

	// PollTimeout is how long a receive blocks waiting for a message.
	PollTimeout time.Duration `env:"QUEUE_POLL_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if strings.TrimSpace(q.Namespace) == "" {
		q.Namespace = "directorybolt:queue:submissions"
	}
	if q.PollTimeout < time.Second {
		q.PollTimeout = time.Second
	}
	if q.PollTimeout > time.Minute {
		q.PollTimeout = time.Minute
	}
}

// SubscriberConfig contains queue subscriber configuration.
type SubscriberConfig struct {
	// WorkerID identifies this subscriber instance. Defaults to a generated
	// ID when empty.
	WorkerID string `env:"SUBSCRIBER_WORKER_ID" envDefault:""`

	// Concurrency is the number of jobs processed at once.
	Concurrency int `env:"SUBSCRIBER_CONCURRENCY" envDefault:"4"`

	// HeartbeatInterval is how often an owned job's heartbeat is refreshed.
	HeartbeatInterval time.Duration `env:"SUBSCRIBER_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// SubmitTimeout bounds one external submission attempt.
	SubmitTimeout time.Duration `env:"SUBSCRIBER_SUBMIT_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to subscriber configuration values.
func (s *SubscriberConfig) Sanitize() {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.Concurrency > 64 {
		s.Concurrency = 64
	}
	if s.HeartbeatInterval < 5*time.Second {
		s.HeartbeatInterval = 5 * time.Second
	}
	if s.SubmitTimeout < 10*time.Second {
		s.SubmitTimeout = 10 * time.Second
	}
}

// RetryConfig contains per-target retry policy configuration.
type RetryConfig struct {
	// MaxAttempts is the per-target attempt budget, first attempt included.
	MaxAttempts int `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"60s"`
}

// Sanitize applies guardrails to retry configuration values.
func (r *RetryConfig) Sanitize() {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.BaseDelay < 100*time.Millisecond {
		r.BaseDelay = 100 * time.Millisecond
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
}

// MonitorConfig contains stale-job monitor configuration.
type MonitorConfig struct {
	// Interval is the sweep tick interval.
	Interval time.Duration `env:"MONITOR_INTERVAL" envDefault:"2m"`

	// StaleThreshold is how long a job may go without a heartbeat before it
	// is considered abandoned.
	StaleThreshold time.Duration `env:"MONITOR_STALE_THRESHOLD" envDefault:"10m"`

	// BatchSize bounds how many stale jobs one sweep requeues.
	BatchSize int `env:"MONITOR_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.Interval < 30*time.Second {
		m.Interval = 30 * time.Second
	}
	// The threshold must comfortably exceed the heartbeat interval or
	// healthy jobs get requeued.
	if m.StaleThreshold < 2*m.Interval {
		m.StaleThreshold = 2 * m.Interval
	}
	if m.BatchSize < 1 {
		m.BatchSize = 1
	}
	if m.BatchSize > 1000 {
		m.BatchSize = 1000
	}
}

// DLQConfig contains dead-letter handler configuration.
type DLQConfig struct {
	// AlertSuppression is the window during which repeat alerts for the
	// same (job, target) are suppressed.
	AlertSuppression time.Duration `env:"DLQ_ALERT_SUPPRESSION" envDefault:"1h"`
}

// Sanitize applies guardrails to dead-letter handler configuration values.
func (d *DLQConfig) Sanitize() {
	if d.AlertSuppression < time.Minute {
		d.AlertSuppression = time.Minute
	}
}
