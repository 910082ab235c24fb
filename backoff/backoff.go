// Package backoff provides the retry delay strategy for job execution.
// Every queue waits a fixed delay between attempts; [Strategy] exists so
// tests can shorten it.
package backoff

import "time"

// DefaultDelay is the fixed delay between job attempts.
const DefaultDelay = 5 * time.Second

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// DefaultStrategy returns the fixed five second delay used by every queue.
func DefaultStrategy() Strategy {
	return NewConstant(DefaultDelay)
}
