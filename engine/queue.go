package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// Queue is the handle for one named queue. Domain queues such as email,
// post and comment are configuration over it: a set of job names, each
// bound to a handler with a concurrency limit.
type Queue struct {
	eng  *Engine
	name string
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Register binds a typed handler to def.Name on q. No more than
// def.Opts.Concurrency invocations of it run at once across the pool.
// Definitions that keep the package default attempt budget inherit the
// dispatcher's Attempts.
func Register[T any](q *Queue, def *job.Definition[T]) {
	eng := q.eng
	def.Opts.Queue = q.name
	if attempts := eng.d.Config().Attempts; def.Opts.MaxAttempts == job.DefaultAttempts && attempts > 0 {
		def.Opts.MaxAttempts = attempts
	}

	job.RegisterDefinition(eng.registry, def)
	eng.queueManager.SetJobConcurrency(q.name, def.Name, def.Opts.Concurrency)
	eng.pool.Register(q.name, def.Opts.Concurrency)

	eng.logger.Debug("worker registered",
		slog.String("queue", q.name),
		slog.String("job_name", def.Name),
		slog.Int("concurrency", def.Opts.Concurrency),
		slog.Int("max_attempts", def.Opts.MaxAttempts),
	)
}

// Enqueue is the typed variant of Queue.Enqueue.
func Enqueue[T any](ctx context.Context, q *Queue, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload for job %q: %v", socialq.ErrInvalidPayload, name, err)
	}
	return q.EnqueueRaw(ctx, name, data, opts...)
}

// Enqueue appends a job to q and returns once the broker has durably
// accepted it. payload is JSON-encoded unless it is already []byte or
// json.RawMessage.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...job.Option) (*job.Job, error) {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("%w: marshal payload for job %q: %v", socialq.ErrInvalidPayload, name, err)
		}
	}
	return q.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The payload is
// decoded into the registered worker's type and validated first.
func (q *Queue) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	eng := q.eng

	binding, ok := eng.registry.Binding(q.name, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", socialq.ErrUnknownJob, q.name, name)
	}
	if _, err := eng.registry.Validate(q.name, name, payload); err != nil {
		if errors.Is(err, socialq.ErrInvalidPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", socialq.ErrInvalidPayload, err)
	}

	jobOpts := job.Options{
		MaxAttempts: binding.MaxAttempts,
		Timeout:     binding.Timeout,
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}
	if jobOpts.MaxAttempts < 1 {
		jobOpts.MaxAttempts = 1
	}

	j := &job.Job{
		Entity:      socialq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       q.name,
		Payload:     payload,
		State:       job.StatePending,
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		RunAt:       time.Now().UTC(),
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt.UTC()
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		switch {
		case errors.Is(err, socialq.ErrJobAlreadyExists), errors.Is(err, socialq.ErrBrokerUnavailable):
			return nil, fmt.Errorf("socialq/engine: enqueue %s/%s: %w", q.name, name, err)
		default:
			return nil, fmt.Errorf("socialq/engine: enqueue %s/%s: %w: %w", q.name, name, socialq.ErrBrokerUnavailable, err)
		}
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}
