package socialq

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the minimum number of worker goroutines. The engine
	// raises it to the sum of registered handler concurrencies.
	Concurrency int

	// Attempts is the total number of times a job is tried, including the
	// first attempt.
	Attempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stalled.
	StaleJobThreshold time.Duration

	// JobTimeout bounds a single handler invocation. Zero means unlimited.
	JobTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		Attempts:          3,
		Backoff:           5 * time.Second,
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		JobTimeout:        time.Minute,
	}
}
