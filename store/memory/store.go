// Package memory provides an in-process broker for tests and development.
// It honours the same claim, retry and ordering rules as the Redis broker.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
	"github.com/xraph/socialq/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory broker. Safe for concurrent access.
// Every read returns a copy so callers can mutate without racing.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
	dlqs map[string]*dlq.Entry

	// down simulates an unreachable broker.
	down bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
		dlqs: make(map[string]*dlq.Entry),
	}
}

// SetUnavailable makes every subsequent call fail with
// socialq.ErrBrokerUnavailable until it is called with false.
func (m *Store) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Ping reports whether the simulated broker is reachable.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}
	return nil
}

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return socialq.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs claims up to limit due jobs from the given queues, ordered
// by RunAt, and marks them running.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !j.State.Queued() {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		started, beat := now, now
		j.State = job.StateRunning
		j.StartedAt = &started
		j.HeartbeatAt = &beat
		cp := *j
		result[i] = &cp
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, socialq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return socialq.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return socialq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return socialq.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat (or start, if
// none was recorded) is older than the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return 0, socialq.ErrBrokerUnavailable
	}

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, socialq.ErrBrokerUnavailable
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, socialq.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return socialq.ErrBrokerUnavailable
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return socialq.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, socialq.ErrBrokerUnavailable
	}

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return 0, socialq.ErrBrokerUnavailable
	}
	return int64(len(m.dlqs)), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
