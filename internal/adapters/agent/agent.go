// Package agent implements the submission operation against the external
// submission agent, the browser-automation service that performs the actual
// directory listing.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
)

// ClientOptions configures the submission agent client.
type ClientOptions struct {
	BaseURL    string        // Required: agent endpoint, e.g. http://agent:8080/api/submissions
	APIKey     string        // Optional: bearer token
	Timeout    time.Duration // Optional: per-request timeout fallback
	HTTPClient *http.Client  // Optional: custom transport
	Logger     *slog.Logger  // Optional: structured logger
}

// Client submits one listing per call by POSTing the business data to the
// agent's per-directory endpoint. Responses map onto the pipeline's error
// classes: 4xx are permanent (retrying the same payload cannot help), except
// rate limits and request timeouts; 5xx and transport errors are transient.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

var _ core.SubmissionOperation = (*Client)(nil)

// NewClient constructs a submission agent client.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("agent base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid agent base url: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  hc,
		logger:  logger.With("component", "agent_client"),
	}, nil
}

type submitResponse struct {
	ListingRef string `json:"listing_ref"`
	Message    string `json:"message"`
}

// Submit implements core.SubmissionOperation.
func (c *Client) Submit(ctx context.Context, businessData json.RawMessage, targetID string) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, url.PathEscape(targetID))
	if err != nil {
		return "", submission.NewPermanentError(fmt.Errorf("build agent url: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(businessData))
	if err != nil {
		return "", submission.NewPermanentError(fmt.Errorf("create agent request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", submission.NewTransientError(fmt.Errorf("agent request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", submission.NewTransientError(fmt.Errorf("read agent response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out submitResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", submission.NewTransientError(fmt.Errorf("decode agent response: %w", err))
		}
		if out.ListingRef == "" {
			return "", submission.NewTransientError(errors.New("agent returned no listing reference"))
		}
		return out.ListingRef, nil

	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		return "", submission.NewValidationError(agentError(resp.StatusCode, body))

	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return "", submission.NewTransientError(agentError(resp.StatusCode, body))

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", submission.NewPermanentError(agentError(resp.StatusCode, body))

	default:
		return "", submission.NewTransientError(agentError(resp.StatusCode, body))
	}
}

func agentError(status int, body []byte) error {
	var out submitResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Message != "" {
		return fmt.Errorf("agent status %d: %s", status, out.Message)
	}
	return fmt.Errorf("agent status %d", status)
}
