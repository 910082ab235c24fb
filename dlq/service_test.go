package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
	"github.com/xraph/socialq/store/memory"
)

func newFailedJob(name string, payload []byte) *job.Job {
	return &job.Job{
		Entity:      socialq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       "email",
		Payload:     payload,
		State:       job.StateFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "test error",
		RunAt:       time.Now().UTC(),
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedJob("resetPasswordEmail", []byte(`{"receiverEmail":"alice@example.com"}`))
	if err := svc.Push(ctx, j, errors.New("mailgun timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != "resetPasswordEmail" {
		t.Errorf("JobName = %q, want %q", entry.JobName, "resetPasswordEmail")
	}
	if entry.Queue != "email" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "email")
	}
	if string(entry.Payload) != `{"receiverEmail":"alice@example.com"}` {
		t.Errorf("Payload = %q", entry.Payload)
	}
	if entry.Error != "mailgun timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "mailgun timeout")
	}
	if entry.Terminal {
		t.Error("exhausted retryable failure should not be marked terminal")
	}
	if entry.Attempts != 3 || entry.MaxAttempts != 3 {
		t.Errorf("Attempts = %d/%d, want 3/3", entry.Attempts, entry.MaxAttempts)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
}

func TestService_Push_RecordsTerminalClassification(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedJob("deletePostFromDB", nil)
	j.Queue = "post"
	j.Attempts = 1
	if err := svc.Push(ctx, j, job.Terminal(errors.New("post not found"))); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := svc.List(ctx, dlq.ListOpts{})
	if len(entries) != 1 || !entries[0].Terminal {
		t.Fatalf("expected one terminal entry, got %+v", entries)
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		j := newFailedJob("job-"+string(rune('a'+i)), nil)
		if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewPendingJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newFailedJob("replay-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("List: %v (%d entries)", err, len(entries))
	}

	replayed, err := svc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StatePending {
		t.Errorf("State = %q, want %q", replayed.State, job.StatePending)
	}
	if replayed.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", replayed.MaxAttempts)
	}
	if replayed.Queue != "email" || replayed.Name != "replay-me" {
		t.Errorf("got %s/%s, want email/replay-me", replayed.Queue, replayed.Name)
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q, want %q", replayed.Payload, `{"key":"value"}`)
	}

	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("stored job State = %q, want %q", got.State, job.StatePending)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	if err := svc.Push(ctx, newFailedJob("replay-mark", nil), errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 1})
	entryID := entries[0].ID

	if _, err := svc.Replay(ctx, entryID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	entry, err := svc.Get(ctx, entryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, socialq.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	_ = svc.Push(ctx, newFailedJob("old", nil), errors.New("fail"))

	n, err := svc.Purge(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d, want 1", n)
	}
	if c, _ := svc.Count(ctx); c != 0 {
		t.Errorf("Count after purge = %d, want 0", c)
	}
}

func TestService_HandlePurge_KeepsRecentEntries(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := s.PushDLQ(ctx, &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "old", Queue: "email", FailedAt: old, CreatedAt: old}); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}
	_ = svc.Push(ctx, newFailedJob("recent", nil), errors.New("fail"))

	if err := svc.HandlePurge(ctx, dlq.PurgeJob{OlderThan: 24 * time.Hour}); err != nil {
		t.Fatalf("HandlePurge: %v", err)
	}

	entries, _ := svc.List(ctx, dlq.ListOpts{})
	if len(entries) != 1 || entries[0].JobName != "recent" {
		t.Fatalf("entries after retention = %d, want only the recent one", len(entries))
	}
}

func TestService_HandlePurge_BrokerDown(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	s.SetUnavailable(true)

	err := svc.HandlePurge(context.Background(), dlq.PurgeJob{OlderThan: time.Hour})
	if !errors.Is(err, socialq.ErrBrokerUnavailable) {
		t.Fatalf("HandlePurge = %v, want ErrBrokerUnavailable", err)
	}
}
