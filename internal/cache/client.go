// Package cache is the read-through cache engine over the shared cache store.
//
// Two read strategies are offered. LoadOrCompute and LoadWithMutex keep a
// physical TTL on every value and write a short-lived tombstone for ids the
// loader reports missing, so repeated lookups of unknown ids stop at the cache
// (penetration). LoadWithLogicalExpiry serves pre-warmed hot keys that never
// expire physically: once an entry is logically stale, one caller wins a
// distributed lock and schedules an asynchronous rebuild while every caller,
// winner included, returns the stale value without waiting (breakdown).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dianping/shophub/internal/cache/codec"
	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/repository"
)

const (
	DefaultNullTTL            = 2 * time.Minute
	DefaultLockTTL            = 10 * time.Second
	DefaultMutexRetryInterval = 50 * time.Millisecond
	DefaultMutexWait          = 3 * time.Second

	releaseTimeout = time.Second
)

type Options struct {
	NullTTL            time.Duration // lifetime of a negative-cache tombstone
	LockTTL            time.Duration // rebuild lock lease
	MutexRetryInterval time.Duration // LoadWithMutex poll interval
	MutexWait          time.Duration // LoadWithMutex total wait; <= 0 waits until ctx ends
	Now                func() time.Time
}

func (o *Options) setDefaults() {
	if o.NullTTL <= 0 {
		o.NullTTL = DefaultNullTTL
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.MutexRetryInterval <= 0 {
		o.MutexRetryInterval = DefaultMutexRetryInterval
	}
	if o.MutexWait == 0 {
		o.MutexWait = DefaultMutexWait
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Client struct {
	store  repository.KVStore
	locker *lock.Locker
	codec  codec.Codec
	pool   *Pool
	flight singleflight.Group
	opts   Options
	logger *zap.Logger
}

// NewClient wires a client. The pool runs logical-expiry rebuilds and is
// owned by the client from here on: Close drains it.
func NewClient(
	store repository.KVStore,
	locker *lock.Locker,
	cdc codec.Codec,
	pool *Pool,
	opts Options,
	logger *zap.Logger,
) *Client {
	opts.setDefaults()
	if cdc == nil {
		cdc = codec.JSON{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		store:  store,
		locker: locker,
		codec:  cdc,
		pool:   pool,
		opts:   opts,
		logger: logger,
	}
}

// Store writes value under key with a physical TTL.
func (c *Client) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, data, ttl)
}

// StoreWithLogicalExpiry writes value wrapped in an Entry expiring ttl from
// now, with no physical TTL.
func (c *Client) StoreWithLogicalExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encodeEntry(c.codec, value, c.opts.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return c.store.Set(ctx, key, data, 0)
}

// Invalidate drops key, tombstone or value alike.
func (c *Client) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Contains reports whether key holds anything, tombstones included.
func (c *Client) Contains(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

// Close stops accepting rebuild jobs and waits for running ones.
func (c *Client) Close(ctx context.Context) error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close(ctx)
}

// LoadOrCompute reads prefix+id and falls back to load on a miss. A
// tombstone answers StatusNegativeHit without calling load. Concurrent
// misses for one key in this process share a single load.
func LoadOrCompute[T, ID any](
	ctx context.Context, c *Client, prefix string, id ID, load Loader[ID, T], ttl time.Duration,
) (Result[T], error) {
	key := Key(prefix, id)

	res, found, err := lookup[T](ctx, c, key)
	if err != nil || found {
		return res, err
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		res, found, err := lookup[T](flightCtx, c, key)
		if err != nil || found {
			return res, err
		}
		return populate(flightCtx, c, key, id, load, ttl)
	})
	if err != nil {
		return Result[T]{}, err
	}
	return v.(Result[T]), nil
}

// LoadWithMutex is LoadOrCompute guarded by a distributed lock, so at most
// one caller across all processes runs load for a missing key. Losers poll
// the cache until the winner has written it or the configured wait elapses.
func LoadWithMutex[T, ID any](
	ctx context.Context, c *Client, prefix string, id ID, load Loader[ID, T], ttl time.Duration,
) (Result[T], error) {
	key := Key(prefix, id)

	op := func() (Result[T], error) {
		res, found, err := lookup[T](ctx, c, key)
		if err != nil {
			return res, backoff.Permanent(err)
		}
		if found {
			return res, nil
		}

		h, err := c.locker.TryAcquire(ctx, lockName(key), c.opts.LockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return res, err
			}
			return res, backoff.Permanent(err)
		}
		defer c.release(h)

		res, found, err = lookup[T](ctx, c, key)
		if err != nil {
			return res, backoff.Permanent(err)
		}
		if found {
			return res, nil
		}
		res, err = populate(ctx, c, key, id, load, ttl)
		if err != nil {
			return res, backoff.Permanent(err)
		}
		return res, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.MutexRetryInterval)),
		backoff.WithMaxElapsedTime(max(c.opts.MutexWait, 0)),
	}
	return backoff.Retry(ctx, op, opts...)
}

// LoadWithLogicalExpiry never blocks on a rebuild. A missing key is
// StatusAbsent (this path assumes pre-warmed data); a fresh entry is
// StatusHit; an expired one is StatusStale, and the caller that wins the
// rebuild lock also schedules the reload on the pool.
func LoadWithLogicalExpiry[T, ID any](
	ctx context.Context, c *Client, prefix string, id ID, load Loader[ID, T], ttl time.Duration,
) (Result[T], error) {
	key := Key(prefix, id)

	entry, found, err := lookupEntry[T](ctx, c, key)
	if err != nil {
		return Result[T]{}, err
	}
	if !found {
		return Result[T]{Status: StatusAbsent}, nil
	}
	if !entry.Expired(c.opts.Now()) {
		return Result[T]{Value: entry.Data, Status: StatusHit}, nil
	}

	stale := Result[T]{Value: entry.Data, Status: StatusStale}

	h, err := c.locker.TryAcquire(ctx, lockName(key), c.opts.LockTTL)
	if err != nil {
		if !errors.Is(err, lock.ErrNotAcquired) {
			c.logger.Warn("rebuild lock unavailable, serving stale", zap.String("key", key), zap.Error(err))
		}
		return stale, nil
	}

	acquired := c.opts.Now()

	fresh, found, err := lookupEntry[T](ctx, c, key)
	if err == nil && found && !fresh.Expired(c.opts.Now()) {
		c.release(h)
		return Result[T]{Value: fresh.Data, Status: StatusHit}, nil
	}

	job := func(jobCtx context.Context) {
		defer c.release(h)
		// Past the lease another caller may already be rebuilding.
		if c.opts.Now().Sub(acquired) >= c.opts.LockTTL {
			c.logger.Warn("rebuild lease ran out while queued, skipped", zap.String("key", key))
			return
		}
		rebuild(jobCtx, c, key, id, load, ttl)
	}
	if c.pool == nil || !c.pool.TrySubmit(job) {
		c.release(h)
		c.logger.Warn("rebuild queue rejected job, serving stale", zap.String("key", key))
	}
	return stale, nil
}

func rebuild[T, ID any](ctx context.Context, c *Client, key string, id ID, load Loader[ID, T], ttl time.Duration) {
	v, found, err := load(ctx, id)
	if err != nil {
		c.logger.Error("cache rebuild failed, stale value kept", zap.String("key", key), zap.Error(err))
		return
	}
	if !found {
		c.logger.Info("rebuild source gone, dropping hot key", zap.String("key", key))
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("drop hot key", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := c.StoreWithLogicalExpiry(ctx, key, v, ttl); err != nil {
		c.logger.Error("write rebuilt entry", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("cache rebuilt", zap.String("key", key))
}

// lookup reports found=true for values and tombstones alike.
func lookup[T any](ctx context.Context, c *Client, key string) (Result[T], bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Result[T]{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !found {
		return Result[T]{Status: StatusAbsent}, false, nil
	}
	if isTombstone(raw) {
		return Result[T]{Status: StatusNegativeHit}, true, nil
	}

	var v T
	if err := c.codec.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("dropping undecodable cache value", zap.String("key", key), zap.Error(err))
		_ = c.store.Delete(ctx, key)
		return Result[T]{Status: StatusAbsent}, false, nil
	}
	return Result[T]{Value: v, Status: StatusHit}, true, nil
}

func lookupEntry[T any](ctx context.Context, c *Client, key string) (Entry[T], bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Entry[T]{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !found || isTombstone(raw) {
		return Entry[T]{}, false, nil
	}

	e, err := decodeEntry[T](c.codec, raw)
	if err != nil {
		c.logger.Warn("undecodable logical entry treated as absent", zap.String("key", key), zap.Error(err))
		return Entry[T]{}, false, nil
	}
	return e, true, nil
}

func populate[T, ID any](
	ctx context.Context, c *Client, key string, id ID, load Loader[ID, T], ttl time.Duration,
) (Result[T], error) {
	v, found, err := load(ctx, id)
	if err != nil {
		return Result[T]{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		if err := c.store.Set(ctx, key, []byte{}, c.opts.NullTTL); err != nil {
			c.logger.Warn("write tombstone", zap.String("key", key), zap.Error(err))
		}
		return Result[T]{Status: StatusAbsent}, nil
	}
	if err := c.Store(ctx, key, v, ttl); err != nil {
		c.logger.Warn("write back loaded value", zap.String("key", key), zap.Error(err))
	}
	return Result[T]{Value: v, Status: StatusLoaded}, nil
}

func (c *Client) release(h *lock.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	ok, err := h.Release(ctx)
	if err != nil {
		c.logger.Warn("release cache lock", zap.String("key", h.Key()), zap.Error(err))
		return
	}
	if !ok {
		c.logger.Warn("cache lock expired before release", zap.String("key", h.Key()))
	}
}

func lockName(key string) string { return key }
