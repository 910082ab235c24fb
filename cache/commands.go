package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ──────────────────────────────────────────────────
// Strings
// ──────────────────────────────────────────────────

// Get returns the value at key. ok is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (val string, ok bool, err error) {
	err = s.do(ctx, "get", key, func(ctx context.Context, c *goredis.Client) error {
		v, getErr := c.Get(ctx, key).Result()
		if errors.Is(getErr, goredis.Nil) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		val, ok = v, true
		return nil
	})
	return val, ok, err
}

// Set stores val at key. A zero ttl keeps the key until it is deleted.
func (s *Store) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return s.do(ctx, "set", key, func(ctx context.Context, c *goredis.Client) error {
		return c.Set(ctx, key, val, ttl).Err()
	})
}

// SetNX stores val at key only when key does not exist and reports
// whether it did. A zero ttl keeps the key until it is deleted.
func (s *Store) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	var set bool
	err := s.do(ctx, "setnx", key, func(ctx context.Context, c *goredis.Client) error {
		var setErr error
		set, setErr = c.SetNX(ctx, key, val, ttl).Result()
		return setErr
	})
	return set, err
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.do(ctx, "del", firstKey(keys), func(ctx context.Context, c *goredis.Client) error {
		var delErr error
		n, delErr = c.Del(ctx, keys...).Result()
		return delErr
	})
	return n, err
}

// ──────────────────────────────────────────────────
// Hashes
// ──────────────────────────────────────────────────

// HGet returns one hash field. ok is false when the key or field is absent.
func (s *Store) HGet(ctx context.Context, key, field string) (val string, ok bool, err error) {
	err = s.do(ctx, "hget", key, func(ctx context.Context, c *goredis.Client) error {
		v, getErr := c.HGet(ctx, key, field).Result()
		if errors.Is(getErr, goredis.Nil) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		val, ok = v, true
		return nil
	})
	return val, ok, err
}

// HGetAll returns every field of the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, "hgetall", key, func(ctx context.Context, c *goredis.Client) error {
		var getErr error
		out, getErr = c.HGetAll(ctx, key).Result()
		return getErr
	})
	return out, err
}

// HSet writes the given field/value pairs to the hash at key.
func (s *Store) HSet(ctx context.Context, key string, values map[string]any) error {
	return s.do(ctx, "hset", key, func(ctx context.Context, c *goredis.Client) error {
		return c.HSet(ctx, key, values).Err()
	})
}

// HIncrBy adds delta to a hash field and returns the new value. The field
// is created at zero when missing.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var n int64
	err := s.do(ctx, "hincrby", key, func(ctx context.Context, c *goredis.Client) error {
		var incrErr error
		n, incrErr = c.HIncrBy(ctx, key, field, delta).Result()
		return incrErr
	})
	return n, err
}

// ──────────────────────────────────────────────────
// Lists
// ──────────────────────────────────────────────────

// LPush prepends values to the list at key and returns its new length.
func (s *Store) LPush(ctx context.Context, key string, values ...any) (int64, error) {
	var n int64
	err := s.do(ctx, "lpush", key, func(ctx context.Context, c *goredis.Client) error {
		var pushErr error
		n, pushErr = c.LPush(ctx, key, values...).Result()
		return pushErr
	})
	return n, err
}

// LRange returns the list elements between start and stop inclusive.
// Negative indexes count from the tail.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.do(ctx, "lrange", key, func(ctx context.Context, c *goredis.Client) error {
		var rangeErr error
		out, rangeErr = c.LRange(ctx, key, start, stop).Result()
		return rangeErr
	})
	return out, err
}

// LRem removes up to count occurrences of value and returns how many were
// removed. count 0 removes all of them.
func (s *Store) LRem(ctx context.Context, key string, count int64, value any) (int64, error) {
	var n int64
	err := s.do(ctx, "lrem", key, func(ctx context.Context, c *goredis.Client) error {
		var remErr error
		n, remErr = c.LRem(ctx, key, count, value).Result()
		return remErr
	})
	return n, err
}

// ──────────────────────────────────────────────────
// Sets
// ──────────────────────────────────────────────────

// SAdd adds members to the set at key and returns how many were new.
func (s *Store) SAdd(ctx context.Context, key string, members ...any) (int64, error) {
	var n int64
	err := s.do(ctx, "sadd", key, func(ctx context.Context, c *goredis.Client) error {
		var addErr error
		n, addErr = c.SAdd(ctx, key, members...).Result()
		return addErr
	})
	return n, err
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...any) (int64, error) {
	var n int64
	err := s.do(ctx, "srem", key, func(ctx context.Context, c *goredis.Client) error {
		var remErr error
		n, remErr = c.SRem(ctx, key, members...).Result()
		return remErr
	})
	return n, err
}

// SMembers returns every member of the set at key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.do(ctx, "smembers", key, func(ctx context.Context, c *goredis.Client) error {
		var membersErr error
		out, membersErr = c.SMembers(ctx, key).Result()
		return membersErr
	})
	return out, err
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Multi queues the commands fn adds and runs them as one MULTI/EXEC
// batch. When fn returns an error nothing is sent. fn receives the
// operation context, bounded by the op timeout.
func (s *Store) Multi(ctx context.Context, fn func(ctx context.Context, pipe goredis.Pipeliner) error) error {
	return s.do(ctx, "multi", "", func(ctx context.Context, c *goredis.Client) error {
		_, err := c.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return fn(ctx, pipe)
		})
		return err
	})
}

// Watch runs fn in an optimistic transaction on keys. fn reads through tx
// and writes with tx.TxPipelined, using the ctx it is given so every
// command shares the op timeout. When a watched key changes before EXEC
// the whole of fn runs again, up to the configured retry limit.
func (s *Store) Watch(ctx context.Context, fn func(ctx context.Context, tx *goredis.Tx) error, keys ...string) error {
	return s.do(ctx, "watch", firstKey(keys), func(ctx context.Context, c *goredis.Client) error {
		txFn := func(tx *goredis.Tx) error { return fn(ctx, tx) }
		var err error
		for range s.watchRetries {
			err = c.Watch(ctx, txFn, keys...)
			if !errors.Is(err, goredis.TxFailedErr) {
				return err
			}
		}
		s.logger.Warn("watch retries exhausted",
			slog.String("key", firstKey(keys)),
			slog.Int("retries", s.watchRetries),
		)
		return err
	})
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
