package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(10))
	assert.False(t, p.ShouldRetry(-1))
}

func TestRetryPolicy_DelayGrowth(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 5,
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for attempt, want := range expected {
		d, ok := p.Delay(attempt)
		require.True(t, ok, "attempt %d", attempt)

		lo := time.Duration(float64(want) * 0.8)
		hi := time.Duration(float64(want) * 1.2)
		assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
		assert.LessOrEqual(t, d, hi, "attempt %d", attempt)
	}

	_, ok := p.Delay(5)
	assert.False(t, ok)
}

func TestRetryPolicy_CapAppliesBeforeJitter(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 10.0,
		MaxDelay:   30 * time.Second,
		MaxRetries: 10,
	}

	// 10^6 seconds uncapped; jitter applies to the 30s ceiling instead
	d, ok := p.Delay(6)
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 24*time.Second)
	assert.LessOrEqual(t, d, 36*time.Second)
}
