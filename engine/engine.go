package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/backoff"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/ext"
	"github.com/xraph/socialq/job"
	mw "github.com/xraph/socialq/middleware"
	"github.com/xraph/socialq/monitor"
	"github.com/xraph/socialq/observability"
	"github.com/xraph/socialq/queue"
	"github.com/xraph/socialq/worker"
)

const instrumentationName = "github.com/xraph/socialq"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *socialq.Dispatcher
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqStore   dlq.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	queueConfigs []queue.Config
	queueManager *queue.Manager

	board   *monitor.Board
	monitor *monitor.Monitor

	mu     sync.Mutex
	queues map[string]*Queue

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, a constant delay of the dispatcher's Backoff is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no queue-wide limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithBoard sets the Board that every queue handle registers with.
// Without it the engine creates its own.
func WithBoard(b *monitor.Board) Option {
	return func(eng *Engine) {
		eng.board = b
	}
}

// WithMonitor replaces the default job monitor, which logs lifecycle
// transitions and deletes completed jobs.
func WithMonitor(m *monitor.Monitor) Option {
	return func(eng *Engine) {
		eng.monitor = m
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement job.Store and dlq.Store.
func Build(d *socialq.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, socialq.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("socialq/engine: store does not implement job.Store")
	}

	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("socialq/engine: store does not implement dlq.Store")
	}

	eng := &Engine{
		d:          d,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		dlqStore:   ds,
		logger:     logger,
		queues:     make(map[string]*Queue),
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := d.Config()

	if eng.bo == nil {
		eng.bo = backoff.NewConstant(config.Backoff)
	}
	if eng.board == nil {
		eng.board = monitor.NewBoard(js, ds)
	}
	if eng.monitor == nil {
		eng.monitor = monitor.New(js, monitor.WithLogger(logger))
	}
	eng.extensions.Register(eng.monitor)

	eng.dlqService = dlq.NewService(ds, js)

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → timeout → user middleware.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.JobTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService, eng.bo, logger, allMws...)

	eng.queueManager = queue.NewManager(eng.queueConfigs...)

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(nil),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
		worker.WithQueueManager(eng.queueManager),
	)

	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Queue returns the handle for the named queue, creating it on first use
// and adding it to the Board.
func (eng *Engine) Queue(name string) *Queue {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if q, ok := eng.queues[name]; ok {
		return q
	}
	q := &Queue{eng: eng, name: name}
	eng.queues[name] = q
	eng.board.Add(name)
	return q
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the worker pool, notifies extensions and
// closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// Ping checks broker connectivity.
func (eng *Engine) Ping(ctx context.Context) error {
	return eng.d.Store().Ping(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *socialq.Dispatcher { return eng.d }

// JobStore returns the broker's job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Board returns the registry of monitored queues.
func (eng *Engine) Board() *monitor.Board { return eng.board }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
