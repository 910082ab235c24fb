package cache_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/cache"
)

func newCache(t *testing.T) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(cache.Config{Addr: mr.Addr(), DialTimeout: time.Second, OpTimeout: time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestConnect_Idempotent(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if c.Connected() {
		t.Fatal("connected before Connect")
	}
	for i := range 2 {
		if err := c.Connect(ctx); err != nil {
			t.Fatalf("Connect #%d: %v", i+1, err)
		}
	}
	if !c.Connected() {
		t.Fatal("not connected after Connect")
	}
}

func TestConnect_ConcurrentCallersShareOneClient(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if n := mr.TotalConnectionCount(); n != 1 {
		t.Fatalf("connections opened = %d, want 1", n)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := cache.New(cache.Config{Addr: addr, DialTimeout: 200 * time.Millisecond})
	if err := c.Connect(context.Background()); !errors.Is(err, socialq.ErrCacheUnavailable) {
		t.Fatalf("Connect = %v, want ErrCacheUnavailable", err)
	}
	if c.Connected() {
		t.Fatal("connected to a dead server")
	}
}

func TestCommandsConnectOnDemand(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "greeting", "hello", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Set did not connect")
	}
	if got, err := mr.Get("greeting"); err != nil || got != "hello" {
		t.Fatalf("stored %q, %v", got, err)
	}
}

func TestStrings(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing = ok %v, err %v", ok, err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := c.Get(ctx, "k"); err != nil || !ok || v != "v" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if n, err := c.Del(ctx, "k", "missing"); err != nil || n != 1 {
		t.Fatalf("Del = %d, %v, want 1", n, err)
	}
}

func TestSetNX(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if set, err := c.SetNX(ctx, "lock", "a", time.Minute); err != nil || !set {
		t.Fatalf("first SetNX = %v, %v", set, err)
	}
	if set, err := c.SetNX(ctx, "lock", "b", time.Minute); err != nil || set {
		t.Fatalf("second SetNX = %v, %v, want not set", set, err)
	}
	if v, _, _ := c.Get(ctx, "lock"); v != "a" {
		t.Fatalf("lock holder = %q, want a", v)
	}

	mr.FastForward(2 * time.Minute)
	if set, err := c.SetNX(ctx, "lock", "c", time.Minute); err != nil || !set {
		t.Fatalf("SetNX after expiry = %v, %v", set, err)
	}
}

func TestHashes(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.HSet(ctx, "users:1", map[string]any{"username": "ada", "followersCount": "2"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if v, ok, err := c.HGet(ctx, "users:1", "username"); err != nil || !ok || v != "ada" {
		t.Fatalf("HGet username = %q, %v, %v", v, ok, err)
	}
	if _, ok, err := c.HGet(ctx, "users:1", "nope"); err != nil || ok {
		t.Fatalf("HGet missing field = %v, %v", ok, err)
	}

	if n, err := c.HIncrBy(ctx, "users:1", "followersCount", -3); err != nil || n != -1 {
		t.Fatalf("HIncrBy = %d, %v, want -1", n, err)
	}
	if n, err := c.HIncrBy(ctx, "users:1", "postsCount", 1); err != nil || n != 1 {
		t.Fatalf("HIncrBy new field = %d, %v, want 1", n, err)
	}

	all, err := c.HGetAll(ctx, "users:1")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	want := map[string]string{"username": "ada", "followersCount": "-1", "postsCount": "1"}
	if len(all) != len(want) {
		t.Fatalf("HGetAll = %v, want %v", all, want)
	}
	for k, v := range want {
		if all[k] != v {
			t.Errorf("field %s = %q, want %q", k, all[k], v)
		}
	}
	if got := mr.HGet("users:1", "followersCount"); got != "-1" {
		t.Fatalf("stored followersCount = %q", got)
	}
}

func TestLists(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if _, err := c.LPush(ctx, "followers:1", "a", "b", "a"); err != nil {
		t.Fatalf("LPush: %v", err)
	}
	items, err := c.LRange(ctx, "followers:1", 0, -1)
	if err != nil || !slices.Equal(items, []string{"a", "b", "a"}) {
		t.Fatalf("LRange = %v, %v", items, err)
	}

	if n, err := c.LRem(ctx, "followers:1", 1, "a"); err != nil || n != 1 {
		t.Fatalf("LRem = %d, %v, want 1", n, err)
	}
	items, err = c.LRange(ctx, "followers:1", 0, -1)
	if err != nil || !slices.Equal(items, []string{"b", "a"}) {
		t.Fatalf("LRange after LRem = %v, %v", items, err)
	}
}

func TestSets(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if n, err := c.SAdd(ctx, "s", "x", "y", "x"); err != nil || n != 2 {
		t.Fatalf("SAdd = %d, %v, want 2", n, err)
	}
	if n, err := c.SRem(ctx, "s", "x"); err != nil || n != 1 {
		t.Fatalf("SRem = %d, %v, want 1", n, err)
	}
	if members, err := c.SMembers(ctx, "s"); err != nil || !slices.Equal(members, []string{"y"}) {
		t.Fatalf("SMembers = %v, %v", members, err)
	}
}

func TestWrongTypeIsOperationError(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "plain", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, err := c.LPush(ctx, "plain", "x")
	if !errors.Is(err, socialq.ErrCacheOperation) || errors.Is(err, socialq.ErrCacheUnavailable) {
		t.Fatalf("LPush on a string = %v, want only ErrCacheOperation", err)
	}

	var opErr *cache.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("error %T is not an OpError", err)
	}
	if opErr.Op != "lpush" || opErr.Key != "plain" {
		t.Fatalf("OpError = %s %s, want lpush plain", opErr.Op, opErr.Key)
	}
}

func TestServerGoneIsUnavailable(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mr.Close()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, socialq.ErrCacheUnavailable) {
		t.Fatalf("Get after server loss = %v, want ErrCacheUnavailable", err)
	}
}

func TestMulti_CommitsAllOrNothing(t *testing.T) {
	c, mr := newCache(t)

	err := c.Multi(context.Background(), func(ctx context.Context, pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, "users:1", "a", "1")
		pipe.LPush(ctx, "followers:1", "2")
		return nil
	})
	if err != nil {
		t.Fatalf("Multi: %v", err)
	}
	if mr.HGet("users:1", "a") != "1" || !mr.Exists("followers:1") {
		t.Fatal("Multi did not apply both commands")
	}

	abort := errors.New("abort")
	err = c.Multi(context.Background(), func(ctx context.Context, pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, "users:2", "a", "1")
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Multi = %v, want the callback error", err)
	}
	if mr.Exists("users:2") {
		t.Fatal("aborted Multi wrote users:2")
	}
}

func TestWatch_RetriesOnConflict(t *testing.T) {
	c, mr := newCache(t)
	mr.Set("counter", "0")

	runs := 0
	err := c.Watch(context.Background(), func(ctx context.Context, tx *goredis.Tx) error {
		runs++
		v, err := tx.Get(ctx, "counter").Int()
		if err != nil {
			return err
		}
		if runs == 1 {
			// Another client writes between our read and EXEC.
			mr.Set("counter", "10")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, "counter", v+1, 0)
			return nil
		})
		return err
	}, "counter")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
	if got, _ := mr.Get("counter"); got != "11" {
		t.Fatalf("counter = %q, want 11", got)
	}
}

func TestWatch_GivesUpAfterRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.New(cache.Config{Addr: mr.Addr()}, cache.WithWatchRetries(2))
	t.Cleanup(func() { _ = c.Close() })

	runs := 0
	err := c.Watch(context.Background(), func(ctx context.Context, tx *goredis.Tx) error {
		runs++
		mr.Set("hot", "x")
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, "hot", "mine", 0)
			return nil
		})
		return err
	}, "hot")
	if !errors.Is(err, socialq.ErrCacheOperation) || !errors.Is(err, goredis.TxFailedErr) {
		t.Fatalf("Watch = %v, want ErrCacheOperation wrapping TxFailedErr", err)
	}
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestWatch_CallbackContextCarriesOpTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	const opTimeout = 200 * time.Millisecond
	c := cache.New(cache.Config{Addr: mr.Addr(), OpTimeout: opTimeout})
	t.Cleanup(func() { _ = c.Close() })

	// The caller's context has no deadline; the callback's must.
	err := c.Watch(context.Background(), func(ctx context.Context, _ *goredis.Tx) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("callback context has no deadline")
		}
		if left := time.Until(deadline); left > opTimeout {
			return errors.New("callback deadline is later than the op timeout")
		}
		return nil
	}, "k")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	err = c.Multi(context.Background(), func(ctx context.Context, _ goredis.Pipeliner) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("multi callback context has no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Multi: %v", err)
	}
}

func TestCloseThenReconnect(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Connected() {
		t.Fatal("connected after Close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set after Close: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Set did not reconnect")
	}
}
