package worker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/xraph/socialq/ext"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// errStalled is recorded on a job that exhausted its attempts while its
// worker had gone silent.
var errStalled = errors.New("job stalled: no heartbeat from worker")

// QueueManager gates job execution per (queue, job name). The pool calls
// Acquire before executing a dequeued job and Release once it finishes.
type QueueManager interface {
	// Acquire reports whether one more invocation of the job may start.
	Acquire(queue, name string) bool
	// Release frees the slot taken by Acquire.
	Release(queue, name string)
}

// Pool manages a set of concurrent worker goroutines that poll for
// jobs and execute them through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	demand       int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	queueManager QueueManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	workers    int
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the minimum number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = slices.Clone(queues) }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before it is considered stalled and requeued. A zero value
// disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets the per-job concurrency and rate gate.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  1,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queues returns the queues the pool polls.
func (p *Pool) Queues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.queues)
}

// Register adds queue to the polled set and raises the worker count by
// concurrency. When the pool is already running the extra goroutines
// start immediately.
func (p *Pool) Register(queue string, concurrency int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !slices.Contains(p.queues, queue) {
		p.queues = append(p.queues, queue)
	}
	p.demand += max(concurrency, 0)

	if p.running {
		p.spawn(p.target() - p.workers)
	}
}

// target is the number of dequeue goroutines the pool should run.
func (p *Pool) target() int {
	return max(p.concurrency, p.demand)
}

// spawn starts n dequeue goroutines. Callers hold p.mu.
func (p *Pool) spawn(n int) {
	for range n {
		p.workers++
		p.wg.Add(1)
		go p.dequeueLoop()
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.target()),
		slog.Any("queues", p.queues),
	)

	p.spawn(p.target())

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context expires first, active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		queues := p.Queues()
		if len(queues) == 0 {
			p.sleep()
			continue
		}

		jobs, err := p.store.DequeueJobs(context.Background(), queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]

		if p.queueManager != nil && !p.queueManager.Acquire(j.Queue, j.Name) {
			p.throttle(j)
			p.sleep()
			continue
		}

		p.run(j)

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue, j.Name)
		}
	}
}

// throttle hands a job that hit its concurrency limit back to the queue,
// due again after one poll interval. The attempt is not counted.
func (p *Pool) throttle(j *job.Job) {
	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.StartedAt = nil
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to re-enqueue throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) run(j *job.Job) {
	j.WorkerID = p.workerID
	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically requeues jobs whose heartbeat has expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs(context.Background())
		}
	}
}

func (p *Pool) reapStaleJobs(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, j := range stale {
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		var silentFor time.Duration
		if last != nil {
			silentFor = now.Sub(*last)
		}
		p.extensions.EmitJobStalled(ctx, j, silentFor)

		// The stalled run already spent the last attempt.
		if j.Exhausted() {
			_ = p.executor.fail(ctx, j, errStalled) //nolint:errcheck // logged by the executor
			continue
		}

		j.State = job.StatePending
		j.RunAt = now
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil
		j.StartedAt = nil

		if updateErr := p.store.UpdateJob(ctx, j); updateErr != nil {
			p.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("requeued stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.Duration("silent_for", silentFor),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

// ActiveJobs returns the number of jobs currently executing in this pool.
func (p *Pool) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
