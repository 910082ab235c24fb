// Package redis implements the socialq broker on Redis.
//
// Each job is a Hash. Every queue is a Sorted Set of job IDs scored by
// the time the job becomes due, so delayed retries and immediate work
// share one structure. Workers claim due jobs with ZREM: whichever caller
// removes the member owns the job, so no job runs twice concurrently.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/store"
)

var _ store.Store = (*Store)(nil)

// maxTxRetries bounds optimistic transaction retries on contended keys.
const maxTxRetries = 5

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", socialq.ErrBrokerUnavailable, err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// watch runs fn in an optimistic WATCH transaction on keys, retrying when
// another client modified a watched key first.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}
