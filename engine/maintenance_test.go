package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/cron"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/engine"
	"github.com/xraph/socialq/id"
)

func TestEngine_EnqueueRawUnknownQueueJob(t *testing.T) {
	eng, _ := newEngine(t)
	_, err := eng.EnqueueRaw(context.Background(), engine.MaintenanceQueue, dlq.PurgeJobName, []byte(`{"olderThan":1}`))
	if !errors.Is(err, socialq.ErrUnknownJob) {
		t.Fatalf("EnqueueRaw before scheduling = %v, want ErrUnknownJob", err)
	}
}

func TestEngine_DLQRetentionPurgesOldEntries(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "sendEmail", Queue: "email",
		Error: "bounced", Attempts: 3, MaxAttempts: 3, FailedAt: now.Add(-48 * time.Hour), CreatedAt: now.Add(-48 * time.Hour)}
	recent := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "sendEmail", Queue: "email",
		Error: "bounced", Attempts: 3, MaxAttempts: 3, FailedAt: now, CreatedAt: now}
	for _, e := range []*dlq.Entry{old, recent} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	clk := now
	sched := cron.NewScheduler(eng.EnqueueRaw, cron.WithClock(func() time.Time { return clk }))
	if err := eng.ScheduleDLQRetention(sched, "@every 1m", 24*time.Hour); err != nil {
		t.Fatalf("ScheduleDLQRetention: %v", err)
	}
	if err := eng.ScheduleDLQRetention(cron.NewScheduler(eng.EnqueueRaw), "@every 1m", time.Hour); err != nil {
		t.Fatalf("second ScheduleDLQRetention on a fresh scheduler: %v", err)
	}
	if err := eng.ScheduleDLQRetention(sched, "@every 1m", time.Hour); !errors.Is(err, cron.ErrDuplicateEntry) {
		t.Fatalf("duplicate ScheduleDLQRetention = %v, want ErrDuplicateEntry", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk = clk.Add(time.Minute)
	if n := sched.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue fired %d, want 1", n)
	}

	waitFor(t, "retention purge", func() bool {
		_, err := s.GetDLQ(ctx, old.ID)
		return errors.Is(err, socialq.ErrDLQNotFound)
	})
	if _, err := s.GetDLQ(ctx, recent.ID); err != nil {
		t.Fatalf("recent entry purged: %v", err)
	}
}
