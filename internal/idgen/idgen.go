// Package idgen produces globally unique, roughly time-ordered 64-bit ids.
//
// Layout of an id (sign bit always zero):
//
//	| 31 bits: seconds since Epoch | 32 bits: per-(prefix, day) counter |
//
// The counter comes from an atomic INCR on the cache store, so ids minted in
// the same second by different processes never collide. CountBits = 32 caps
// one prefix at 4,294,967,295 ids per UTC day; the 31-bit timestamp lasts
// until 2090.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CountBits   = 32
	counterMask = 1<<CountBits - 1

	keyPrefix  = "icr:"
	dateLayout = "2006:01:02"

	defaultCounterTTL = 48 * time.Hour
)

// Epoch is 2022-01-01T00:00:00Z.
var Epoch = time.Unix(1640995200, 0).UTC()

var (
	ErrCounterOverflow  = errors.New("idgen: daily counter exceeds CountBits")
	ErrClockBeforeEpoch = errors.New("idgen: clock is before epoch")
)

type Generator struct {
	rdb        redis.Cmdable
	epoch      time.Time
	counterTTL time.Duration
	now        func() time.Time
}

type Option func(*Generator)

func WithEpoch(epoch time.Time) Option {
	return func(g *Generator) { g.epoch = epoch }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithCounterTTL sets how long a day's counter key survives; <= 0 keeps it forever.
func WithCounterTTL(ttl time.Duration) Option {
	return func(g *Generator) { g.counterTTL = ttl }
}

func New(rdb redis.Cmdable, opts ...Option) *Generator {
	g := &Generator{
		rdb:        rdb,
		epoch:      Epoch,
		counterTTL: defaultCounterTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a fresh id for prefix (e.g. "order").
func (g *Generator) Next(ctx context.Context, prefix string) (int64, error) {
	now := g.now().UTC()
	elapsed := now.Unix() - g.epoch.Unix()
	if elapsed < 0 {
		return 0, ErrClockBeforeEpoch
	}

	key := CounterKey(prefix, now)

	var incr *redis.IntCmd
	_, err := g.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		if g.counterTTL > 0 {
			p.Expire(ctx, key, g.counterTTL)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}

	count := incr.Val()
	if count > counterMask {
		return 0, fmt.Errorf("%w: %s at %d", ErrCounterOverflow, key, count)
	}
	return elapsed<<CountBits | count, nil
}

// CounterKey is the cache-store key holding prefix's counter for the UTC day of t.
func CounterKey(prefix string, t time.Time) string {
	return keyPrefix + prefix + ":" + t.UTC().Format(dateLayout)
}

// Decompose splits an id into its timestamp (relative to epoch) and counter.
func Decompose(id int64, epoch time.Time) (time.Time, int64) {
	seconds := id >> CountBits
	return epoch.Add(time.Duration(seconds) * time.Second), id & counterMask
}
