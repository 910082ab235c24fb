package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/cache"
	"github.com/xraph/socialq/cron"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// enqueueSpy records enqueue calls with thread safety.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	Queue   string
	Name    string
	Payload []byte
}

func (e *enqueueSpy) Fn() cron.EnqueueFunc {
	return func(_ context.Context, queue, name string, payload []byte) (*job.Job, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.err != nil {
			return nil, e.err
		}
		e.calls = append(e.calls, enqueueCall{Queue: queue, Name: name, Payload: payload})
		return &job.Job{ID: id.NewJobID(), Queue: queue, Name: name}, nil
	}
}

func (e *enqueueSpy) Calls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]enqueueCall(nil), e.calls...)
}

func retentionEntry() cron.Entry {
	return cron.Entry{
		Name:     "dlq-retention",
		Schedule: "@every 1m",
		Queue:    "maintenance",
		JobName:  "purgeDLQ",
		Payload:  []byte(`{"olderThan":3600000000000}`),
	}
}

func TestAdd_Validation(t *testing.T) {
	s := cron.NewScheduler((&enqueueSpy{}).Fn())

	bad := retentionEntry()
	bad.Schedule = "every minute please"
	if err := s.Add(bad); err == nil {
		t.Fatal("Add accepted an unparsable schedule")
	}

	missing := retentionEntry()
	missing.Queue = ""
	if err := s.Add(missing); err == nil {
		t.Fatal("Add accepted an entry without a queue")
	}

	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(retentionEntry()); !errors.Is(err, cron.ErrDuplicateEntry) {
		t.Fatalf("second Add = %v, want ErrDuplicateEntry", err)
	}
	if n := len(s.Entries()); n != 1 {
		t.Fatalf("Entries = %d, want 1", n)
	}
}

func TestRunDue_FiresOncePerSlot(t *testing.T) {
	clk := newClock()
	spy := &enqueueSpy{}
	s := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now))
	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()

	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("RunDue before the first slot fired %d", n)
	}

	clk.Advance(time.Minute)
	if n := s.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue at the slot fired %d, want 1", n)
	}
	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("RunDue twice in one slot fired %d", n)
	}

	calls := spy.Calls()
	if len(calls) != 1 || calls[0].Queue != "maintenance" || calls[0].Name != "purgeDLQ" {
		t.Fatalf("enqueue calls = %+v", calls)
	}
	if string(calls[0].Payload) != `{"olderThan":3600000000000}` {
		t.Fatalf("payload = %s", calls[0].Payload)
	}

	e := s.Entries()[0]
	if e.LastRunAt == nil || !e.LastRunAt.Equal(clk.Now()) {
		t.Fatalf("LastRunAt = %v, want %v", e.LastRunAt, clk.Now())
	}
	if !e.NextRunAt.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("NextRunAt = %v", e.NextRunAt)
	}
}

func TestRunDue_MissedSlotsFireOnce(t *testing.T) {
	clk := newClock()
	spy := &enqueueSpy{}
	s := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now))
	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	clk.Advance(10 * time.Minute)
	if n := s.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue after ten missed slots fired %d, want 1", n)
	}
}

func TestRunDue_EnqueueFailureSkipsSlot(t *testing.T) {
	clk := newClock()
	spy := &enqueueSpy{err: socialq.ErrBrokerUnavailable}
	s := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now))
	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	clk.Advance(time.Minute)
	if n := s.RunDue(context.Background()); n != 0 {
		t.Fatalf("RunDue with a failing broker fired %d", n)
	}
	e := s.Entries()[0]
	if e.LastRunAt != nil {
		t.Fatal("LastRunAt set for a failed enqueue")
	}
	if !e.NextRunAt.After(clk.Now()) {
		t.Fatal("failed slot was not advanced")
	}
}

func TestRunDue_SharedLockerFiresOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := cache.New(cache.Config{Addr: mr.Addr(), DialTimeout: time.Second, OpTimeout: time.Second})
	t.Cleanup(func() { _ = locker.Close() })

	clk := newClock()
	spy := &enqueueSpy{}
	a := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now), cron.WithLocker(locker))
	b := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now), cron.WithLocker(locker))
	for _, s := range []*cron.Scheduler{a, b} {
		if err := s.Add(retentionEntry()); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ctx := context.Background()

	for slot := 1; slot <= 3; slot++ {
		clk.Advance(time.Minute)
		if fired := a.RunDue(ctx) + b.RunDue(ctx); fired != 1 {
			t.Fatalf("slot %d fired %d times across two schedulers", slot, fired)
		}
	}
	if n := len(spy.Calls()); n != 3 {
		t.Fatalf("enqueued %d jobs, want 3", n)
	}
}

func TestRunDue_LockerDownRetriesNextTick(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := cache.New(cache.Config{Addr: mr.Addr(), DialTimeout: 100 * time.Millisecond, OpTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = locker.Close() })

	clk := newClock()
	spy := &enqueueSpy{}
	s := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now), cron.WithLocker(locker))
	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()

	clk.Advance(time.Minute)
	mr.SetError("LOADING")
	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("RunDue with a failing locker fired %d", n)
	}

	mr.SetError("")
	if n := s.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue after the locker recovered fired %d, want 1", n)
	}
}

func TestStartStop(t *testing.T) {
	clk := newClock()
	spy := &enqueueSpy{}
	s := cron.NewScheduler(spy.Fn(), cron.WithClock(clk.Now), cron.WithTickInterval(5*time.Millisecond))
	if err := s.Add(retentionEntry()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clk.Advance(time.Minute)
	deadline := time.After(2 * time.Second)
	for len(spy.Calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("tick loop never fired the due entry")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	clk.Advance(time.Minute)
	time.Sleep(30 * time.Millisecond)
	if n := len(spy.Calls()); n != 1 {
		t.Fatalf("scheduler fired after Stop: %d calls", n)
	}
}
