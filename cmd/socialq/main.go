// Command socialq runs the background job workers and the monitoring API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/api"
	"github.com/xraph/socialq/cache"
	"github.com/xraph/socialq/comment"
	"github.com/xraph/socialq/config"
	"github.com/xraph/socialq/cron"
	pgdocs "github.com/xraph/socialq/docstore/postgres"
	"github.com/xraph/socialq/email"
	"github.com/xraph/socialq/engine"
	"github.com/xraph/socialq/monitor"
	"github.com/xraph/socialq/password"
	"github.com/xraph/socialq/post"
	"github.com/xraph/socialq/social"
	"github.com/xraph/socialq/store"
	pgbroker "github.com/xraph/socialq/store/postgres"
	redisstore "github.com/xraph/socialq/store/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("socialq exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// application holds every long-lived component so shutdown can reach them.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider

	redis  *goredis.Client
	eng    *engine.Engine
	cron   *cron.Scheduler
	cache  *cache.Store
	docs   *pgdocs.Store
	server *http.Server
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("config", cfg.String()))

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.eng.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	if err := app.cron.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(app.server.Shutdown(sctx), app.cron.Stop(sctx), app.eng.Stop(sctx))
	})
	return g.Wait()
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		cfg:    cfg,
		logger: logger,
		tracer: sdktrace.NewTracerProvider(),
		meter:  sdkmetric.NewMeterProvider(),
	}

	// The Redis broker client. The cache dials its own connection.
	app.redis = goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.RedisDialTimeout,
	})

	// Cache.
	app.cache = cache.New(cfg.Cache(), cache.WithLogger(logger))
	if err := app.cache.Connect(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	// Document store.
	docs, err := pgdocs.New(ctx, cfg.DatabaseURL, pgdocs.WithLogger(logger))
	if err != nil {
		app.close()
		return nil, err
	}
	app.docs = docs
	if err := docs.Migrate(ctx); err != nil {
		app.close()
		return nil, err
	}

	// Broker.
	broker, err := app.newBroker(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("broker: %w", err)
	}
	board := monitor.NewBoard(broker, broker)

	d, err := socialq.New(
		socialq.WithConfig(cfg.Dispatcher()),
		socialq.WithStore(broker),
		socialq.WithLogger(logger),
	)
	if err != nil {
		app.close()
		return nil, err
	}
	app.eng, err = engine.Build(d,
		engine.WithBoard(board),
		engine.WithTracerProvider(app.tracer),
		engine.WithMeterProvider(app.meter),
	)
	if err != nil {
		app.close()
		return nil, err
	}

	templates, err := email.NewTemplates()
	if err != nil {
		app.close()
		return nil, err
	}

	emails := app.eng.Queue(email.Queue)
	email.Register(emails, email.NewWorker(email.NewSender(cfg.Email(), logger), email.WithWorkerLogger(logger)))
	post.Register(app.eng.Queue(post.Queue), post.NewWorker(docs, logger))
	comment.Register(app.eng.Queue(comment.Queue), comment.NewWorker(docs, logger))

	// Every replica schedules retention; the cache lock lets one enqueue per slot.
	app.cron = cron.NewScheduler(app.eng.EnqueueRaw, cron.WithLocker(app.cache), cron.WithLogger(logger))
	if err := app.eng.ScheduleDLQRetention(app.cron, cfg.DLQPurgeSchedule, cfg.DLQRetention); err != nil {
		app.close()
		return nil, err
	}

	passwords := password.New(docs, emails, templates, cfg.ClientURL,
		password.WithExpiry(password.TTL(cfg.ResetTokenTTL)),
		password.WithLogger(logger),
	)
	followers := social.New(app.cache, docs, social.WithLogger(logger))

	handler := api.New(app.eng,
		api.WithCache(app.cache),
		api.WithPasswordReset(passwords),
		api.WithFollowers(followers),
		api.WithLogger(logger),
	).Handler()
	app.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return app, nil
}

// newBroker returns the queue backend chosen by BROKER_DRIVER. The
// Postgres broker shares the document store's pool.
func (app *application) newBroker(ctx context.Context) (store.Store, error) {
	var broker store.Store
	switch app.cfg.BrokerDriver {
	case config.BrokerPostgres:
		pg := pgbroker.NewFromPool(app.docs.Pool(), pgbroker.WithLogger(app.logger))
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		broker = pg
	default:
		broker = redisstore.New(app.redis, redisstore.WithLogger(app.logger))
	}
	if err := broker.Ping(ctx); err != nil {
		return nil, err
	}
	app.logger.Info("broker ready", slog.String("driver", app.cfg.BrokerDriver))
	return broker, nil
}

// close releases what engine.Stop does not. Neither broker owns its
// connection, so the Redis client and the pool are closed here.
func (app *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if app.cache != nil {
		_ = app.cache.Close()
	}
	if app.docs != nil {
		_ = app.docs.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if err := errors.Join(app.tracer.Shutdown(ctx), app.meter.Shutdown(ctx)); err != nil {
		app.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "socialq")
}
