package monitor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
	"github.com/xraph/socialq/monitor"
	"github.com/xraph/socialq/store/memory"
)

func seed(t *testing.T, s *memory.Store, queue string, state job.State) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      socialq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "sendEmail",
		Queue:       queue,
		State:       state,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestMonitor_CompletedJobIsDeleted(t *testing.T) {
	s := memory.New()
	logger, buf := bufferLogger()
	m := monitor.New(s, monitor.WithLogger(logger))

	j := seed(t, s, "email", job.StateCompleted)
	if err := m.OnJobCompleted(context.Background(), j, 10*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if _, err := s.GetJob(context.Background(), j.ID); !errors.Is(err, socialq.ErrJobNotFound) {
		t.Fatalf("completed job still in broker: %v", err)
	}
	if !strings.Contains(buf.String(), "job completed") {
		t.Errorf("completion not logged: %s", buf.String())
	}

	// A second delivery of the same event is harmless.
	if err := m.OnJobCompleted(context.Background(), j, 0); err != nil {
		t.Fatalf("repeat OnJobCompleted: %v", err)
	}
}

func TestMonitor_KeepCompleted(t *testing.T) {
	s := memory.New()
	m := monitor.New(s, monitor.KeepCompleted())

	j := seed(t, s, "email", job.StateCompleted)
	if err := m.OnJobCompleted(context.Background(), j, 0); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if _, err := s.GetJob(context.Background(), j.ID); err != nil {
		t.Fatalf("job removed despite KeepCompleted: %v", err)
	}
}

func TestMonitor_DeleteErrorIsReturned(t *testing.T) {
	s := memory.New()
	m := monitor.New(s)
	j := seed(t, s, "email", job.StateCompleted)

	s.SetUnavailable(true)
	if err := m.OnJobCompleted(context.Background(), j, 0); !errors.Is(err, socialq.ErrBrokerUnavailable) {
		t.Fatalf("OnJobCompleted = %v, want ErrBrokerUnavailable", err)
	}
}

func TestMonitor_StalledIsLogged(t *testing.T) {
	logger, buf := bufferLogger()
	m := monitor.New(memory.New(), monitor.WithLogger(logger))

	j := &job.Job{ID: id.NewJobID(), Name: "addPostToDB", Queue: "post"}
	if err := m.OnJobStalled(context.Background(), j, 45*time.Second); err != nil {
		t.Fatalf("OnJobStalled: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "job stalled") || !strings.Contains(out, "silent_for=45s") {
		t.Errorf("stall not logged: %s", out)
	}
}

func TestMonitor_FailedRaisesAlert(t *testing.T) {
	logger, buf := bufferLogger()

	var alerted *job.Job
	m := monitor.New(memory.New(),
		monitor.WithLogger(logger),
		monitor.WithAlerter(monitor.AlerterFunc(func(_ context.Context, j *job.Job, _ error) error {
			alerted = j
			return nil
		})),
	)

	j := &job.Job{ID: id.NewJobID(), Name: "resetPasswordEmail", Queue: "email", Attempts: 3}
	if err := m.OnJobFailed(context.Background(), j, errors.New("smtp 550")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if alerted != j {
		t.Fatal("alerter not called")
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("failure not logged at error level: %s", buf.String())
	}
}

func TestBoard_Snapshot(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	seed(t, s, "email", job.StatePending)
	seed(t, s, "email", job.StatePending)
	seed(t, s, "email", job.StateRetrying)
	seed(t, s, "post", job.StateFailed)
	seed(t, s, "comment", job.StatePending) // not monitored

	if err := s.PushDLQ(ctx, &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), Queue: "post", FailedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("push dlq: %v", err)
	}

	b := monitor.NewBoard(s, s)
	b.Add("email")
	b.Add("post")
	b.Add("email")

	snap, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Queues) != 2 {
		t.Fatalf("queues = %d, want 2", len(snap.Queues))
	}
	email, post := snap.Queues[0], snap.Queues[1]
	if email.Name != "email" || email.Pending != 2 || email.Retrying != 1 {
		t.Errorf("email stats = %+v", email)
	}
	if post.Name != "post" || post.Failed != 1 || post.Pending != 0 {
		t.Errorf("post stats = %+v", post)
	}
	if snap.DLQ != 1 {
		t.Errorf("dlq = %d, want 1", snap.DLQ)
	}
}

func TestBoard_Queue(t *testing.T) {
	s := memory.New()
	b := monitor.NewBoard(s, s)
	b.Add("email")
	seed(t, s, "email", job.StateRunning)

	qs, err := b.Queue(context.Background(), "email")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if qs.Running != 1 {
		t.Errorf("running = %d, want 1", qs.Running)
	}

	if _, err := b.Queue(context.Background(), "post"); !errors.Is(err, socialq.ErrQueueNotFound) {
		t.Fatalf("Queue(post) = %v, want ErrQueueNotFound", err)
	}
}

func TestBoard_SnapshotBrokerDown(t *testing.T) {
	s := memory.New()
	b := monitor.NewBoard(s, s)
	b.Add("email")
	s.SetUnavailable(true)

	if _, err := b.Snapshot(context.Background()); !errors.Is(err, socialq.ErrBrokerUnavailable) {
		t.Fatalf("Snapshot = %v, want ErrBrokerUnavailable", err)
	}
}
