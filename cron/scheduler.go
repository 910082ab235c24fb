package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/socialq/job"
)

// EnqueueFunc enqueues one fired entry. The engine supplies it, which
// keeps this package free of an engine import.
type EnqueueFunc func(ctx context.Context, queue, name string, payload []byte) (*job.Job, error)

// Locker claims a key for ttl. cache.Store satisfies it.
type Locker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ErrDuplicateEntry is returned by Add for a name already scheduled.
var ErrDuplicateEntry = errors.New("socialq/cron: duplicate entry")

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLocker shares fire slots with other processes.
func WithLocker(l Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = l }
}

// WithLockTTL sets how long a claimed fire slot is held.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry Entry
	sched cronlib.Schedule
}

// Scheduler fires entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	locker  Locker
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	mu      sync.Mutex
	entries []*scheduled

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler that fires through enqueue.
func NewScheduler(enqueue EnqueueFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		lockTTL:      time.Hour,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cron")
	return s
}

// Add schedules e. Its first run is the next slot after now.
func (s *Scheduler) Add(e Entry) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("socialq/cron: entry %s: parse %q: %w", e.Name, e.Schedule, err)
	}
	if e.Name == "" || e.Queue == "" || e.JobName == "" {
		return fmt.Errorf("socialq/cron: entry %q: name, queue and job name are required", e.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.entries, func(x *scheduled) bool { return x.entry.Name == e.Name }) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Name)
	}
	e.NextRunAt = sched.Next(s.now().UTC())
	s.entries = append(s.entries, &scheduled{entry: e, sched: sched})
	return nil
}

// Entries returns a snapshot of the scheduled entries.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, x := range s.entries {
		out[i] = x.entry
	}
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.tickLoop(context.WithoutCancel(ctx))
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the tick loop and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue fires every entry whose next run is at or before now and
// returns how many this process enqueued. A missed window fires once,
// not once per missed slot.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*scheduled
	for _, x := range s.entries {
		if !x.entry.NextRunAt.After(now) {
			due = append(due, x)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, x := range due {
		if s.fire(ctx, x, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, x *scheduled, now time.Time) bool {
	s.mu.Lock()
	e := x.entry
	s.mu.Unlock()

	log := s.logger.With(slog.String("cron_name", e.Name), slog.String("job_name", e.JobName))

	if s.locker != nil {
		key := "socialq:cron:" + e.Name + ":" + strconv.FormatInt(e.NextRunAt.Unix(), 10)
		ok, err := s.locker.SetNX(ctx, key, now.Format(time.RFC3339), s.lockTTL)
		if err != nil {
			// Keep the slot; the next tick retries it.
			log.Warn("cron lock failed", slog.String("error", err.Error()))
			return false
		}
		if !ok {
			s.advance(x, now, nil)
			log.Debug("cron slot taken by another process")
			return false
		}
	}

	j, err := s.enqueue(ctx, e.Queue, e.JobName, e.Payload)
	if err != nil {
		log.Error("cron enqueue failed", slog.String("error", err.Error()))
		s.advance(x, now, nil)
		return false
	}

	s.advance(x, now, &now)
	log.Info("cron fired", slog.String("job_id", j.ID.String()))
	return true
}

func (s *Scheduler) advance(x *scheduled, now time.Time, ran *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ran != nil {
		t := *ran
		x.entry.LastRunAt = &t
	}
	x.entry.NextRunAt = x.sched.Next(now)
}
