package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/socialq/job"
)

// hooked pairs a hook implementation with the extension name captured at
// registration time.
type hooked[H any] struct {
	name string
	hook H
}

// cache appends e to list when it implements H.
func cache[H any](list []hooked[H], e Extension) []hooked[H] {
	if h, ok := e.(H); ok {
		return append(list, hooked[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []hooked[JobEnqueued]
	jobStarted   []hooked[JobStarted]
	jobCompleted []hooked[JobCompleted]
	jobFailed    []hooked[JobFailed]
	jobRetrying  []hooked[JobRetrying]
	jobDLQ       []hooked[JobDLQ]
	jobStalled   []hooked[JobStalled]
	shutdown     []hooked[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	r.jobEnqueued = cache(r.jobEnqueued, e)
	r.jobStarted = cache(r.jobStarted, e)
	r.jobCompleted = cache(r.jobCompleted, e)
	r.jobFailed = cache(r.jobFailed, e)
	r.jobRetrying = cache(r.jobRetrying, e)
	r.jobDLQ = cache(r.jobDLQ, e)
	r.jobStalled = cache(r.jobStalled, e)
	r.shutdown = cache(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDLQ notifies all extensions that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// EmitJobStalled notifies all extensions that implement JobStalled.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job, silentFor time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.jobStalled {
		if err := e.hook.OnJobStalled(ctx, j, silentFor); err != nil {
			r.logHookError("OnJobStalled", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never reach the job pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
