// Package social is the social cache: per-user follower lists, block
// lists and denormalized profile counters kept in Redis.
//
// Keys:
//
//	followers:<userId>   list of follower ids, newest first
//	users:<userId>       hash of profile fields and counters; block lists
//	                     are JSON arrays of user ids in a field
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/socialq/cache"
	"github.com/xraph/socialq/docstore"
)

// DefaultLookupConcurrency bounds parallel user lookups in ListFollowers.
const DefaultLookupConcurrency = 8

// UserLookup resolves a user id to its public summary.
type UserLookup interface {
	GetUserSummary(ctx context.Context, userID string) (*docstore.UserSummary, error)
}

// BlockAction selects what SetBlockState does.
type BlockAction int

const (
	// Block adds the other user to the list.
	Block BlockAction = iota
	// Unblock removes the other user from the list.
	Unblock
)

func (a BlockAction) String() string {
	switch a {
	case Block:
		return "block"
	case Unblock:
		return "unblock"
	default:
		return fmt.Sprintf("BlockAction(%d)", int(a))
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithLookupConcurrency sets how many user lookups ListFollowers runs at
// once.
func WithLookupConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.lookups = n
		}
	}
}

// Cache implements the social cache operations over a cache.Store.
type Cache struct {
	store   *cache.Store
	users   UserLookup
	logger  *slog.Logger
	lookups int
}

// New creates a Cache.
func New(store *cache.Store, users UserLookup, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		users:   users,
		logger:  slog.Default(),
		lookups: DefaultLookupConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "social")
	return c
}

func followersKey(userID string) string { return "followers:" + userID }
func userKey(userID string) string      { return "users:" + userID }

// fail logs err and returns the ServerError callers see.
func (c *Cache) fail(op, key string, err error) error {
	c.logger.Error("cache operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	return &ServerError{Op: op, category: categorize(err)}
}

// AddFollower pushes followerID onto userID's follower list unless it is
// already there. Concurrent adds of the same follower store it once.
func (c *Cache) AddFollower(ctx context.Context, userID, followerID string) error {
	key := followersKey(userID)
	err := c.store.Watch(ctx, func(ctx context.Context, tx *goredis.Tx) error {
		list, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		if slices.Contains(list, followerID) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LPush(ctx, key, followerID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return c.fail("add follower", key, err)
	}
	return nil
}

// RemoveFollower removes one occurrence of followerID.
func (c *Cache) RemoveFollower(ctx context.Context, userID, followerID string) error {
	key := followersKey(userID)
	if _, err := c.store.LRem(ctx, key, 1, followerID); err != nil {
		return c.fail("remove follower", key, err)
	}
	return nil
}

// ListFollowers returns the summaries of userID's followers in list order.
//
// Each id is resolved through the UserLookup, one call per follower, so
// the cost grows with the list. Lookups run with bounded parallelism.
func (c *Cache) ListFollowers(ctx context.Context, userID string) ([]docstore.UserSummary, error) {
	key := followersKey(userID)
	ids, err := c.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, c.fail("list followers", key, err)
	}

	out := make([]docstore.UserSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.lookups)
	for i, id := range ids {
		g.Go(func() error {
			u, err := c.users.GetUserSummary(gctx, id)
			if err != nil {
				return fmt.Errorf("lookup user %s: %w", id, err)
			}
			out[i] = *u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, c.fail("list followers", key, err)
	}
	return out, nil
}

// IncrementCounter adds delta to a counter field of userID's hash. The
// result is not clamped and may go negative.
func (c *Cache) IncrementCounter(ctx context.Context, userID, field string, delta int64) error {
	key := userKey(userID)
	if _, err := c.store.HIncrBy(ctx, key, field, delta); err != nil {
		return c.fail("increment counter", key, err)
	}
	return nil
}

// SetBlockState adds otherUserID to, or removes it from, the JSON list in
// field of userID's hash. The read-modify-write is a compare-and-swap, so
// concurrent updates to the same list are never lost. Blocking an
// already-blocked user is a no-op.
func (c *Cache) SetBlockState(ctx context.Context, userID, field, otherUserID string, action BlockAction) error {
	key := userKey(userID)
	if action != Block && action != Unblock {
		return c.fail("set block state", key, fmt.Errorf("unknown action %s", action))
	}

	err := c.store.Watch(ctx, func(ctx context.Context, tx *goredis.Tx) error {
		raw, err := tx.HGet(ctx, key, field).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		list, err := decodeList(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", field, err)
		}

		switch action {
		case Block:
			if slices.Contains(list, otherUserID) {
				return nil
			}
			list = append(list, otherUserID)
		case Unblock:
			list = slices.DeleteFunc(list, func(id string) bool { return id == otherUserID })
		}

		data, err := json.Marshal(list)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, field, string(data))
			return nil
		})
		return err
	}, key)
	if err != nil {
		return c.fail("set block state", key, err)
	}
	return nil
}

// BlockList returns the ids stored in field of userID's hash.
func (c *Cache) BlockList(ctx context.Context, userID, field string) ([]string, error) {
	key := userKey(userID)
	raw, _, err := c.store.HGet(ctx, key, field)
	if err != nil {
		return nil, c.fail("block list", key, err)
	}
	list, err := decodeList(raw)
	if err != nil {
		return nil, c.fail("block list", key, err)
	}
	return list, nil
}

func decodeList(raw string) ([]string, error) {
	list := []string{}
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
