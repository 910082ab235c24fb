package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-wide limit (per-job limits still apply).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dequeued from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// jobState tracks runtime state for a single (queue, job name) binding.
type jobState struct {
	max    int
	active int
}

// Manager controls per-queue rate limits and per-binding concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	jobs   map[string]*jobState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no queue-wide limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
		jobs:   make(map[string]*jobState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

func jobKey(queue, name string) string { return queue + "/" + name }

// Acquire checks the queue's rate limit and concurrency plus the
// concurrency bound of the (queue, name) binding. If the job may proceed
// it increments the active counters and returns true. The caller MUST
// call Release when the job completes.
func (m *Manager) Acquire(queue, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	js := m.jobs[jobKey(queue, name)]
	if js != nil && js.max > 0 && js.active >= js.max {
		return false
	}

	qs := m.queues[queue]
	if qs != nil {
		if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
			return false
		}
		// Take a token last so a denied job does not consume one.
		if qs.limiter != nil && !qs.limiter.Allow() {
			return false
		}
		qs.active++
	}
	if js != nil {
		js.active++
	}
	return true
}

// Release decrements the active counts for the queue and binding.
func (m *Manager) Release(queue, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if js := m.jobs[jobKey(queue, name)]; js != nil && js.active > 0 {
		js.active--
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// SetJobConcurrency bounds simultaneous executions of one job name on
// one queue. n <= 0 removes the bound.
func (m *Manager) SetJobConcurrency(queue, name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := jobKey(queue, name)
	js := m.jobs[k]
	if js == nil {
		js = &jobState{}
		m.jobs[k] = js
	}
	js.max = n
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// JobActiveCount returns the current number of active executions of a
// (queue, name) binding.
func (m *Manager) JobActiveCount(queue, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[jobKey(queue, name)]; js != nil {
		return js.active
	}
	return 0
}
