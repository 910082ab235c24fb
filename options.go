package socialq

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal broker interface held by the Dispatcher. The full
// job.Store and dlq.Store contracts are asserted by the engine package,
// which sits above the subsystem packages and can import them.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher owns the broker connection and the worker pool lifecycle.
//
// Create one with New and functional options, then hand it to
// engine.Build, which wires the registry, executor and pool back in.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's broker store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the worker pool and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithConcurrency sets the minimum number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithAttempts sets the total number of attempts per job.
func WithAttempts(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Attempts = n
		return nil
	}
}

// WithBackoff sets the fixed delay between attempts.
func WithBackoff(delay time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.Backoff = delay
		return nil
	}
}

// WithPollInterval sets how often idle workers poll the broker.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the broker backend. The store must also implement
// job.Store and dlq.Store for engine.Build to accept it.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
