package session

import (
	"math"
	"math/rand"
	"time"
)

// reconnector owns the backoff schedule: exponential from the base delay,
// jittered, capped, with a bounded attempt budget. A connection that stayed
// up for a minute earns a fresh budget.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(baseDelay, maxDelay time.Duration, maxAttempts int) *reconnector {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &reconnector{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
	}
}

// shouldReconnect gates the next attempt. The stable-connection check runs
// first: a connection that held for over a minute earns a fresh budget even
// when the previous episode spent it all. connectedAt is consumed here so a
// long outage cannot re-arm the budget mid-episode.
func (r *reconnector) shouldReconnect() bool {
	if !r.connectedAt.IsZero() {
		if time.Since(r.connectedAt) > 60*time.Second {
			r.attempt = 0
		}
		r.connectedAt = time.Time{}
	}
	return r.attempt < r.maxAttempts
}

func (r *reconnector) attempts() int {
	return r.attempt
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}
