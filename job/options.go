package job

import "time"

// Default values applied to every definition unless overridden.
const (
	DefaultQueue       = "default"
	DefaultAttempts    = 3
	DefaultConcurrency = 1
)

// Options configures per-job behavior such as attempts, queue and
// concurrency.
type Options struct {
	// MaxAttempts is the total number of executions, including the first.
	MaxAttempts int

	// Queue is the queue name this job is enqueued to.
	Queue string

	// Concurrency bounds simultaneous executions of this job on its queue.
	Concurrency int

	// Timeout is the maximum duration a job may run before being cancelled.
	// Zero means the dispatcher-wide default applies.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time
}

// DefaultOptions returns Options with the queue-wide defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultAttempts,
		Queue:       DefaultQueue,
		Concurrency: DefaultConcurrency,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithConcurrency sets how many invocations of the handler may run at once.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Concurrency = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}
