// Package monitor watches job lifecycle events. The Monitor extension logs
// completed, stalled and failed jobs and deletes completed jobs from the
// broker. The Board is the explicit registry of monitored queues the
// monitoring API reads from.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/ext"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Monitor)(nil)
	_ ext.JobCompleted = (*Monitor)(nil)
	_ ext.JobStalled   = (*Monitor)(nil)
	_ ext.JobFailed    = (*Monitor)(nil)
	_ ext.JobRetrying  = (*Monitor)(nil)
)

// Remover deletes finished jobs from the broker.
type Remover interface {
	DeleteJob(ctx context.Context, jobID id.JobID) error
}

// Alerter is notified when a job fails terminally.
type Alerter interface {
	Alert(ctx context.Context, j *job.Job, err error) error
}

// AlerterFunc is an adapter to use a plain function as an Alerter.
type AlerterFunc func(ctx context.Context, j *job.Job, err error) error

// Alert implements Alerter.
func (f AlerterFunc) Alert(ctx context.Context, j *job.Job, err error) error {
	return f(ctx, j, err)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger for the monitor.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithAlerter routes terminal failures to a.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) { m.alerter = a }
}

// KeepCompleted leaves completed jobs in the broker.
func KeepCompleted() Option {
	return func(m *Monitor) { m.remover = nil }
}

// Monitor is the job monitor extension.
type Monitor struct {
	remover Remover
	alerter Alerter
	logger  *slog.Logger
}

// New creates a Monitor that deletes completed jobs through r.
func New(r Remover, opts ...Option) *Monitor {
	m := &Monitor{
		remover: r,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor")
	return m
}

// Name implements ext.Extension.
func (m *Monitor) Name() string { return "job-monitor" }

// OnJobCompleted logs the completion and removes the job from the broker.
func (m *Monitor) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Duration("elapsed", elapsed),
	)
	if m.remover == nil {
		return nil
	}
	err := m.remover.DeleteJob(ctx, j.ID)
	if err == nil || errors.Is(err, socialq.ErrJobNotFound) {
		return nil
	}
	return err
}

// OnJobStalled logs a job whose worker stopped heartbeating.
func (m *Monitor) OnJobStalled(_ context.Context, j *job.Job, silentFor time.Duration) error {
	m.logger.Warn("job stalled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Duration("silent_for", silentFor),
	)
	return nil
}

// OnJobFailed logs a terminal failure and raises an alert.
func (m *Monitor) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	m.logger.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.String("error", jobErr.Error()),
	)
	if m.alerter == nil {
		return nil
	}
	return m.alerter.Alert(ctx, j, jobErr)
}

// OnJobRetrying records the scheduled retry.
func (m *Monitor) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	m.logger.Debug("job retrying",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", attempt),
		slog.Time("next_run_at", nextRunAt),
	)
	return nil
}
