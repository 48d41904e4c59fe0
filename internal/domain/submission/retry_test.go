package submission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pinnedPolicy returns a policy with jitter fixed at the midpoint so delays
// are deterministic.
func pinnedPolicy(t *testing.T, maxAttempts int, base, max time.Duration) *RetryPolicy {
	t.Helper()
	p, err := NewRetryPolicy(maxAttempts, base, max)
	require.NoError(t, err)
	p.jitter = func() float64 { return 0.5 }
	return p
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	p, err := NewRetryPolicy(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	assert.Equal(t, DefaultBaseDelay, p.baseDelay)
	assert.Equal(t, DefaultMaxDelay, p.maxDelay)
}

func TestNewRetryPolicyRejectsNegative(t *testing.T) {
	_, err := NewRetryPolicy(-1, time.Second, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidRetryPolicy)

	_, err = NewRetryPolicy(3, -time.Second, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidRetryPolicy)
}

func TestNewRetryPolicyLiftsMaxToBase(t *testing.T) {
	p, err := NewRetryPolicy(3, 10*time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, p.maxDelay)
}

func TestNextDelayDoublesAndCaps(t *testing.T) {
	p := pinnedPolicy(t, 10, time.Second, 8*time.Second)

	assert.Equal(t, 1*time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 8*time.Second, p.NextDelay(4))
	// Past the cap the delay stays at the cap.
	assert.Equal(t, 8*time.Second, p.NextDelay(9))
}

func TestNextDelayClampsAttemptFloor(t *testing.T) {
	p := pinnedPolicy(t, 3, time.Second, time.Minute)
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(-4))
}

func TestNextDelayJitterBounds(t *testing.T) {
	p, err := NewRetryPolicy(3, 4*time.Second, time.Minute)
	require.NoError(t, err)

	p.jitter = func() float64 { return 0 }
	assert.Equal(t, 3*time.Second, p.NextDelay(1))

	p.jitter = func() float64 { return 1 }
	assert.Equal(t, 5*time.Second, p.NextDelay(1))
}

func TestShouldRetryBudget(t *testing.T) {
	p := pinnedPolicy(t, 3, time.Second, time.Minute)

	assert.True(t, p.ShouldRetry(1, ClassTransient))
	assert.True(t, p.ShouldRetry(2, ClassTransient))
	assert.False(t, p.ShouldRetry(3, ClassTransient))
	assert.False(t, p.ShouldRetry(4, ClassTransient))
}

func TestShouldRetryClasses(t *testing.T) {
	p := pinnedPolicy(t, 3, time.Second, time.Minute)

	assert.True(t, p.ShouldRetry(1, ClassTransient))
	assert.True(t, p.ShouldRetry(1, ClassUnclassified))
	assert.False(t, p.ShouldRetry(1, ClassValidation))
	assert.False(t, p.ShouldRetry(1, ClassPermanent))
}
