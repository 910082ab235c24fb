package monitor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/job"
)

// Counter reports job counts from the broker.
type Counter interface {
	CountJobs(ctx context.Context, opts job.CountOpts) (int64, error)
}

// DLQCounter reports the dead letter queue size.
type DLQCounter interface {
	CountDLQ(ctx context.Context) (int64, error)
}

// QueueStats holds per-state job counts for one queue.
type QueueStats struct {
	Name      string `json:"name"`
	Pending   int64  `json:"pending"`
	Running   int64  `json:"running"`
	Retrying  int64  `json:"retrying"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Snapshot is the state of every monitored queue at one instant.
type Snapshot struct {
	Queues  []QueueStats `json:"queues"`
	DLQ     int64        `json:"dlq"`
	TakenAt time.Time    `json:"taken_at"`
}

// Board is the registry of monitored queues. Build one per process and
// hand it to whatever needs to read queue state.
type Board struct {
	jobs Counter
	dlq  DLQCounter

	mu     sync.RWMutex
	queues []string
}

// NewBoard creates an empty Board reading from the given broker.
func NewBoard(jobs Counter, dlq DLQCounter) *Board {
	return &Board{jobs: jobs, dlq: dlq}
}

// Add registers a queue. Adding a queue twice is a no-op.
func (b *Board) Add(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.queues, name) {
		b.queues = append(b.queues, name)
	}
}

// Queues returns the monitored queue names in registration order.
func (b *Board) Queues() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.queues)
}

// Has reports whether name is monitored.
func (b *Board) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.queues, name)
}

// Queue returns the counts for a single monitored queue.
func (b *Board) Queue(ctx context.Context, name string) (QueueStats, error) {
	if !b.Has(name) {
		return QueueStats{}, fmt.Errorf("%w: %s", socialq.ErrQueueNotFound, name)
	}
	return b.count(ctx, name)
}

// Snapshot counts every monitored queue concurrently.
func (b *Board) Snapshot(ctx context.Context) (*Snapshot, error) {
	queues := b.Queues()
	stats := make([]QueueStats, len(queues))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range queues {
		g.Go(func() error {
			qs, err := b.count(gctx, name)
			if err != nil {
				return err
			}
			stats[i] = qs
			return nil
		})
	}

	var dlqCount int64
	if b.dlq != nil {
		g.Go(func() error {
			n, err := b.dlq.CountDLQ(gctx)
			if err != nil {
				return fmt.Errorf("socialq/monitor: count dlq: %w", err)
			}
			dlqCount = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Snapshot{Queues: stats, DLQ: dlqCount, TakenAt: time.Now().UTC()}, nil
}

func (b *Board) count(ctx context.Context, name string) (QueueStats, error) {
	qs := QueueStats{Name: name}
	for _, c := range []struct {
		state job.State
		dst   *int64
	}{
		{job.StatePending, &qs.Pending},
		{job.StateRunning, &qs.Running},
		{job.StateRetrying, &qs.Retrying},
		{job.StateCompleted, &qs.Completed},
		{job.StateFailed, &qs.Failed},
	} {
		n, err := b.jobs.CountJobs(ctx, job.CountOpts{Queue: name, State: c.state})
		if err != nil {
			return qs, fmt.Errorf("socialq/monitor: count %s/%s: %w", name, c.state, err)
		}
		*c.dst = n
	}
	return qs, nil
}
