package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/internal/pgmigrate"
	"github.com/xraph/socialq/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL broker using pgx/v5.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store from a connection string. The store owns the pool
// and Close releases it.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: connect: %w", err)
	}

	s := NewFromPool(pool, opts...)
	s.owned = true
	return s, nil
}

// NewFromPool creates a store on an existing pool. The caller keeps
// ownership of the pool.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the broker tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := pgmigrate.Apply(ctx, s.pool, migrationsFS, "migrations", "socialq_broker_migrations", s.logger); err != nil {
		return fmt.Errorf("socialq/postgres: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", socialq.ErrBrokerUnavailable, err)
	}
	return nil
}

// Close closes the pool when the store created it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// Pool returns the underlying pgxpool.Pool for advanced usage.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
