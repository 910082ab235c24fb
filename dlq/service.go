package dlq

import (
	"context"
	"time"

	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       jobErr.Error(),
		Terminal:    job.IsTerminal(jobErr),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// List returns entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Count returns the number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}
