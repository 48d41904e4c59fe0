package config

import (
	"strings"
	"time"
)

// AgentConfig contains submission agent configuration. The agent is the
// external service that performs the actual directory listing submission.
type AgentConfig struct {
	BaseURL string        `env:"AGENT_BASE_URL" envDefault:"http://localhost:8080/api/submissions"`
	APIKey  string        `env:"AGENT_API_KEY"  envDefault:""`
	Timeout time.Duration `env:"AGENT_TIMEOUT"  envDefault:"2m"`
}

// Sanitize applies guardrails to agent configuration values.
func (a *AgentConfig) Sanitize() {
	a.BaseURL = strings.TrimSpace(a.BaseURL)
	a.APIKey = strings.TrimSpace(a.APIKey)
	if a.Timeout < 10*time.Second {
		a.Timeout = 10 * time.Second
	}
}
