package submission

import (
	"errors"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxAttempts is the retry budget per target.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = 60 * time.Second

	// jitterFraction spreads retries +/-25% to avoid hammering one directory
	// from many workers at once.
	jitterFraction = 0.25
)

// ErrInvalidRetryPolicy indicates non-positive policy parameters.
var ErrInvalidRetryPolicy = errors.New("retry policy parameters must be positive")

// RetryPolicy computes backoff delays and retry decisions from the attempt
// count and the classified error. It is pure; randomness is confined to the
// jitter source so tests can pin it.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func() float64
}

// NewRetryPolicy constructs a RetryPolicy. Zero values select the defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) (*RetryPolicy, error) {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxAttempts < 0 || baseDelay < 0 || maxDelay < 0 {
		return nil, ErrInvalidRetryPolicy
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		jitter:      rand.Float64,
	}, nil
}

// MustNewRetryPolicy constructs a RetryPolicy and panics on invalid input.
// Use only with static configuration validated at startup.
func MustNewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	p, err := NewRetryPolicy(maxAttempts, baseDelay, maxDelay)
	if err != nil {
		panic(err)
	}
	return p
}

// MaxAttempts returns the configured attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// NextDelay returns the redelivery delay after the given attempt count
// (1-based: the delay scheduled after attempt n). Exponential from the base,
// doubling per attempt, capped, with +/-25% jitter applied last so the cap
// itself is jittered rather than clipped to a fixed ceiling.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			delay = p.maxDelay
			break
		}
	}

	spread := 1 + jitterFraction*(2*p.jitter()-1)
	return time.Duration(float64(delay) * spread)
}

// ShouldRetry reports whether a failed attempt may be rescheduled. Attempts
// at or past the budget never retry; validation and permanent errors never
// retry; unclassified errors retry (fail open toward retry, since a stuck
// target is worse than a wasted attempt for best-effort listing submission).
func (p *RetryPolicy) ShouldRetry(attempt int, class Class) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return class.Retryable()
}
