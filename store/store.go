// Package store defines the broker interface every backend implements.
//
// The job and dlq packages each define their own store contract. The
// composite [Store] joins them with connection lifecycle so a single
// backend serves the whole queue:
//
//   - store/redis: the production broker on go-redis
//   - store/postgres: a pgx broker claiming rows with SKIP LOCKED
//   - store/memory: an in-process broker for tests and development
//
// Usage:
//
//	s := redis.New(client)
//	d, err := socialq.New(socialq.WithStore(s))
package store

import (
	"context"

	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/job"
)

// Store is the aggregate broker interface.
type Store interface {
	job.Store
	dlq.Store

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}
