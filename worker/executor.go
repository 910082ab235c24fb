// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and applies the retry
// policy, and a Pool that runs the dequeue loops, heartbeats and the
// stall reaper.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/backoff"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/ext"
	"github.com/xraph/socialq/job"
	"github.com/xraph/socialq/middleware"
)

// Executor runs a single job through middleware and the registered handler,
// then applies the retry policy, DLQ push, state updates and lifecycle
// events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt of a claimed job.
//
// The attempt is counted and persisted before the handler runs, so a
// worker that dies mid-job still spends it. On success the job is marked
// completed and JobCompleted is emitted. A retryable failure with attempts
// left is rescheduled after the backoff delay. A terminal failure, or one
// that exhausts the attempt budget, marks the job failed, pushes it to the
// DLQ and returns an error wrapping socialq.ErrJobFailedTerminal.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to record job attempt",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	handler, ok := e.registry.Get(j.Queue, j.Name)
	if !ok {
		err := job.Terminal(fmt.Errorf("%w: %s/%s", socialq.ErrUnknownJob, j.Queue, j.Name))
		return e.handleFailure(ctx, j, err, time.Now().UTC())
	}

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	})
	elapsed := time.Since(start)

	// The outcome is recorded even when shutdown cancelled the handler.
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure either schedules another attempt or fails the job for good.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if job.IsTerminal(handlerErr) || j.Exhausted() {
		return e.fail(ctx, j, handlerErr)
	}
	return e.scheduleRetry(ctx, j, handlerErr, now)
}

// scheduleRetry puts the job back on its queue after the backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("socialq/worker: job %s attempt %d/%d: %w", j.Name, j.Attempts, j.MaxAttempts, handlerErr)
}

// fail marks the job as failed, pushes it to the DLQ and emits events.
func (e *Executor) fail(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed
	j.LastError = handlerErr.Error()

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Bool("terminal", job.IsTerminal(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	return fmt.Errorf("%w: job %s attempt %d/%d: %w",
		socialq.ErrJobFailedTerminal, j.Name, j.Attempts, j.MaxAttempts, handlerErr)
}
