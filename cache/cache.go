package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/socialq"
)

// Default timeouts applied when Config leaves them zero.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultOpTimeout   = 3 * time.Second
)

// maxWatchRetries bounds optimistic transaction retries on contended keys.
const maxWatchRetries = 10

// Config holds the connection settings for the cache server.
type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithWatchRetries sets how many times Watch re-runs a transaction whose
// watched keys changed underneath it.
func WithWatchRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.watchRetries = n
		}
	}
}

// Store is a Redis-backed cache with an explicit connection lifecycle.
// It is safe for concurrent use.
type Store struct {
	cfg          Config
	logger       *slog.Logger
	watchRetries int

	connects singleflight.Group

	mu     sync.RWMutex
	client *goredis.Client
}

// New creates a Store. No connection is made until Connect or the first
// command.
func New(cfg Config, opts ...Option) *Store {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	s := &Store{
		cfg:          cfg,
		logger:       slog.Default(),
		watchRetries: maxWatchRetries,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "cache")
	return s
}

// Connected reports whether the Store holds an open client.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Connect opens the connection and verifies it with PING. It is a no-op
// when already connected. Concurrent callers wait on the same attempt.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *Store) conn(ctx context.Context) (*goredis.Client, error) {
	s.mu.RLock()
	c := s.client
	s.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := s.connects.Do("connect", func() (any, error) {
		s.mu.RLock()
		existing := s.client
		s.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		client := goredis.NewClient(&goredis.Options{
			Addr:        s.cfg.Addr,
			Password:    s.cfg.Password,
			DB:          s.cfg.DB,
			DialTimeout: s.cfg.DialTimeout,
		})

		pingCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			s.logger.Error("connect failed",
				slog.String("addr", s.cfg.Addr),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: connect %s: %v", socialq.ErrCacheUnavailable, s.cfg.Addr, err)
		}

		s.mu.Lock()
		s.client = client
		s.mu.Unlock()
		s.logger.Info("connected", slog.String("addr", s.cfg.Addr))
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*goredis.Client), nil
}

// Ping checks the server is reachable, connecting first if needed.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", "", func(ctx context.Context, c *goredis.Client) error {
		return c.Ping(ctx).Err()
	})
}

// Close releases the connection. A later command reconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("socialq/cache: close: %w", err)
	}
	return nil
}

// do connects on demand and runs fn under the operation timeout,
// classifying any error it returns.
func (s *Store) do(ctx context.Context, op, key string, fn func(context.Context, *goredis.Client) error) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := fn(opCtx, c); err != nil {
		return classify(op, key, err)
	}
	return nil
}
