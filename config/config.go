// Package config defines environment-driven configuration for the
// submission pipeline. Values are loaded with github.com/caarlos0/env; see
// the individual files for the available variables:
//   - database.go: Postgres and Redis configuration
//   - services.go: service modes, subscriber, monitor, dead-letter handler
//   - observability.go: StatsD and Slack notification configuration
package config

import (
	"os"
	"strings"
)

// AppConfig is the root application configuration.
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, text log
	// format). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: subscriber, monitor, dlq-handler
	Services string `env:"SERVICES" envDefault:"subscriber"`

	Queue      QueueConfig
	Subscriber SubscriberConfig
	Retry      RetryConfig
	Monitor    MonitorConfig
	DLQ        DLQConfig
	Agent      AgentConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call after loading from environment variables.
func (c *AppConfig) Sanitize() {
	c.Queue.Sanitize()
	c.Subscriber.Sanitize()
	c.Retry.Sanitize()
	c.Monitor.Sanitize()
	c.DLQ.Sanitize()
	c.Agent.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks APP_ENV as a fallback for the DEV flag.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSubscriberEnabled returns true if the queue subscriber is enabled.
func (c *AppConfig) IsSubscriberEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSubscriber]
}

// IsMonitorEnabled returns true if the stale-job monitor is enabled.
func (c *AppConfig) IsMonitorEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeMonitor]
}

// IsDLQHandlerEnabled returns true if the dead-letter handler is enabled.
func (c *AppConfig) IsDLQHandlerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDLQHandler]
}
