package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

func newJob(name, queue string, state job.State, runAt time.Time) *job.Job {
	return &job.Job{
		Entity:      socialq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queue,
		Payload:     []byte(`{"test":true}`),
		State:       state,
		MaxAttempts: 3,
		RunAt:       runAt,
	}
}

func due() time.Time { return time.Now().UTC().Add(-time.Second) }

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	s.SetUnavailable(true)

	if err := s.Ping(ctx); !errors.Is(err, socialq.ErrBrokerUnavailable) {
		t.Fatalf("Ping = %v, want ErrBrokerUnavailable", err)
	}
	if err := s.EnqueueJob(ctx, newJob("x", "email", job.StatePending, due())); !errors.Is(err, socialq.ErrBrokerUnavailable) {
		t.Fatalf("EnqueueJob = %v, want ErrBrokerUnavailable", err)
	}

	s.SetUnavailable(false)
	if err := s.EnqueueJob(ctx, newJob("x", "email", job.StatePending, due())); err != nil {
		t.Fatalf("EnqueueJob after recovery: %v", err)
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("addPostToDB", "post", job.StatePending, due())

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, socialq.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name {
		t.Fatalf("got name %q, want %q", got.Name, j.Name)
	}

	// Mutating the returned copy must not affect the store.
	got.State = job.StateFailed
	again, _ := s.GetJob(ctx, j.ID)
	if again.State != job.StatePending {
		t.Fatalf("store state changed through a returned copy: %q", again.State)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, socialq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	older := newJob("older", "post", job.StatePending, time.Now().UTC().Add(-time.Minute))
	newer := newJob("newer", "post", job.StatePending, due())
	other := newJob("other-queue", "comment", job.StatePending, due())
	retry := newJob("retrying", "post", job.StateRetrying, due())

	for _, j := range []*job.Job{older, newer, other, retry} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"post"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].Name != "older" {
		t.Fatalf("first job = %q, want older", jobs[0].Name)
	}
	for _, j := range jobs {
		if j.State != job.StateRunning {
			t.Fatalf("dequeued job state = %q, want running", j.State)
		}
		if j.StartedAt == nil || j.HeartbeatAt == nil {
			t.Fatal("dequeued job should carry StartedAt and HeartbeatAt")
		}
	}

	// Nothing left to claim on that queue.
	jobs, _ = s.DequeueJobs(ctx, []string{"post"}, 10)
	if len(jobs) != 0 {
		t.Fatalf("expected no further claims, got %d", len(jobs))
	}
}

func TestJobDequeueLimitAndRunAt(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	future := newJob("future", "email", job.StatePending, time.Now().UTC().Add(time.Hour))
	ready := newJob("ready", "email", job.StatePending, due())
	ready2 := newJob("ready2", "email", job.StatePending, due())

	for _, j := range []*job.Job{future, ready, ready2} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"email"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Name == "future" {
		t.Fatal("future job must not be dequeued")
	}
}

func TestJobDequeueConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 50 {
		_ = s.EnqueueJob(ctx, newJob("addCommentToDB", "comment", job.StatePending, due()))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"comment"}, 3)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("claimed %d distinct jobs, want 50", len(seen))
	}
	for jid, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", jid, n)
		}
	}
}

func TestJobUpdateRequeuesRetrying(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("sendEmail", "email", job.StatePending, due())
	_ = s.EnqueueJob(ctx, j)

	claimed, _ := s.DequeueJobs(ctx, []string{"email"}, 1)
	if len(claimed) != 1 {
		t.Fatal("expected to claim the job")
	}

	c := claimed[0]
	c.State = job.StateRetrying
	c.Attempts = 1
	c.RunAt = time.Now().UTC().Add(-time.Millisecond)
	if err := s.UpdateJob(ctx, c); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	again, _ := s.DequeueJobs(ctx, []string{"email"}, 1)
	if len(again) != 1 || again[0].Attempts != 1 {
		t.Fatalf("expected retrying job to be claimable again, got %+v", again)
	}

	missing := newJob("missing", "email", job.StatePending, due())
	if err := s.UpdateJob(ctx, missing); !errors.Is(err, socialq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("delete-me", "post", job.StatePending, due())
	_ = s.EnqueueJob(ctx, j)

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, socialq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after delete, got %v", err)
	}
	if err := s.DeleteJob(ctx, id.NewJobID()); !errors.Is(err, socialq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobListByState(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, j := range []*job.Job{
		newJob("pending1", "post", job.StatePending, due()),
		newJob("pending2", "post", job.StatePending, due()),
		newJob("running1", "post", job.StateRunning, due()),
	} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		state     job.State
		opts      job.ListOpts
		wantCount int
	}{
		{"all pending", job.StatePending, job.ListOpts{}, 2},
		{"all running", job.StateRunning, job.ListOpts{}, 1},
		{"pending with limit", job.StatePending, job.ListOpts{Limit: 1}, 1},
		{"pending with offset", job.StatePending, job.ListOpts{Offset: 1}, 1},
		{"other queue", job.StatePending, job.ListOpts{Queue: "email"}, 0},
		{"completed (none)", job.StateCompleted, job.ListOpts{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.ListJobsByState(ctx, tt.state, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(jobs) != tt.wantCount {
				t.Fatalf("got %d, want %d", len(jobs), tt.wantCount)
			}
		})
	}
}

func TestJobHeartbeatAndReapStale(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("heartbeat-job", "post", job.StateRunning, due())
	old := time.Now().UTC().Add(-time.Minute)
	j.HeartbeatAt = &old
	_ = s.EnqueueJob(ctx, j)

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale job, got %d", len(stale))
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}

	stale, _ = s.ReapStaleJobs(ctx, 30*time.Second)
	if len(stale) != 0 {
		t.Fatalf("expected 0 stale jobs after heartbeat, got %d", len(stale))
	}
}

func TestJobReapFallsBackToStartedAt(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("never-beat", "post", job.StateRunning, due())
	started := time.Now().UTC().Add(-time.Minute)
	j.StartedAt = &started
	_ = s.EnqueueJob(ctx, j)

	stale, _ := s.ReapStaleJobs(ctx, 30*time.Second)
	if len(stale) != 1 {
		t.Fatalf("expected job without heartbeat to be stale, got %d", len(stale))
	}
}

func TestJobCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, j := range []*job.Job{
		newJob("count1", "post", job.StatePending, due()),
		newJob("count2", "email", job.StatePending, due()),
		newJob("count3", "post", job.StateRunning, due()),
	} {
		_ = s.EnqueueJob(ctx, j)
	}

	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"post queue", job.CountOpts{Queue: "post"}, 2},
		{"pending state", job.CountOpts{State: job.StatePending}, 2},
		{"post+pending", job.CountOpts{Queue: "post", State: job.StatePending}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if count != tt.want {
				t.Fatalf("count = %d, want %d", count, tt.want)
			}
		})
	}
}

func newEntry(queue string, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		ID:          id.NewDLQID(),
		JobID:       id.NewJobID(),
		JobName:     "resetPasswordEmail",
		Queue:       queue,
		Error:       "boom",
		Attempts:    3,
		MaxAttempts: 3,
		FailedAt:    failedAt,
		CreatedAt:   failedAt,
	}
}

func TestDLQ(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	old := newEntry("email", now.Add(-time.Hour))
	recent := newEntry("email", now)
	other := newEntry("post", now.Add(-time.Minute))
	for _, e := range []*dlq.Entry{old, recent, other} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if len(all) != 3 || all[0].ID != recent.ID {
		t.Fatalf("expected newest first, got %d entries", len(all))
	}
	emails, _ := s.ListDLQ(ctx, dlq.ListOpts{Queue: "email"})
	if len(emails) != 2 {
		t.Fatalf("expected 2 email entries, got %d", len(emails))
	}

	if err := s.ReplayDLQ(ctx, old.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDLQ(ctx, old.ID)
	if got.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt to be set")
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, socialq.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, socialq.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}

	n, _ := s.PurgeDLQ(ctx, now.Add(-30*time.Minute))
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if c, _ := s.CountDLQ(ctx); c != 2 {
		t.Fatalf("count = %d, want 2", c)
	}
}
