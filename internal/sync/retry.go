package sync

import (
	"math"
	"math/rand/v2"
	"time"
)

// jitterFrac perturbs computed delays by ±20% so independent devices do not
// retry in lockstep.
const jitterFrac = 0.2

// RetryPolicy computes exponential backoff with jitter for failed outbox
// pushes. Methods are total for all non-negative attempts and keep no state.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 3,
	}
}

// ShouldRetry reports whether another attempt is allowed after `attempt`
// failures (0-based).
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt >= 0 && attempt < p.MaxRetries
}

// Delay returns the wait before attempt number `attempt` (0-based), or
// false once the retry budget is exhausted. The cap applies before jitter;
// the result is never negative.
func (p RetryPolicy) Delay(attempt int) (time.Duration, bool) {
	if !p.ShouldRetry(attempt) {
		return 0, false
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if ceil := float64(p.MaxDelay); d > ceil {
		d = ceil
	}

	d *= 1 + jitterFrac*(2*rand.Float64()-1)
	if d < 0 {
		d = 0
	}

	return time.Duration(d), true
}
