package dlq

import (
	"context"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID and attempt budget and
// runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	maxAttempts := entry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = job.DefaultAttempts
	}

	j := &job.Job{
		Entity:      socialq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StatePending,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	// The job is already enqueued; report the marking failure alongside it.
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, err
	}
	return j, nil
}
