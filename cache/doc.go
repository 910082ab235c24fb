// Package cache is the Cache Store: an explicit connection lifecycle over
// a Redis client plus the string, hash, list, set and transaction
// primitives the social cache is built from.
//
// Connect is idempotent and concurrent callers share one dial. Every
// primitive connects on demand and runs under the configured operation
// timeout. Failures come back as one of two categories:
//
//   - socialq.ErrCacheUnavailable: the server could not be reached or the
//     operation timed out.
//   - socialq.ErrCacheOperation: the server answered with an error. The
//     returned *OpError carries the command and key.
//
// Usage:
//
//	c := cache.New(cache.Config{Addr: "localhost:6379"})
//	if err := c.Connect(ctx); err != nil { ... }
//	defer c.Close()
//	n, err := c.HIncrBy(ctx, "users:42", "followersCount", 1)
package cache
