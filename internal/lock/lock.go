// Package lock implements a mutual-exclusion primitive on top of the shared
// cache store. A lock is a key holding an owner token with a store-enforced
// TTL, so a crashed holder releases it automatically once the TTL lapses.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lock:"

var (
	ErrNotAcquired = errors.New("lock: not acquired")
	ErrInvalidTTL  = errors.New("lock: ttl must be positive")
)

// unlockScript deletes KEYS[1] only while it still holds ARGV[1].
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out Handles for named locks. It is safe for concurrent use.
type Locker struct {
	rdb    redis.Cmdable
	owner  string
	logger *zap.Logger
}

func New(rdb redis.Cmdable, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		rdb:    rdb,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

// Handle is a held lock. It is not reentrant: acquiring the same name again
// through the Locker is an independent attempt that fails while this handle
// is live.
type Handle struct {
	rdb   redis.Cmdable
	key   string
	token string
	ttl   time.Duration
}

func (h *Handle) Key() string        { return h.key }
func (h *Handle) Token() string      { return h.token }
func (h *Handle) TTL() time.Duration { return h.ttl }

// TryAcquire makes exactly one conditional-set attempt and returns
// ErrNotAcquired when the lock is held by someone else.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	key := keyPrefix + name
	token := l.owner + "-" + uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Handle{rdb: l.rdb, key: key, token: token, ttl: ttl}, nil
}

// Acquire retries TryAcquire every interval until it succeeds or ctx is done.
// The caller bounds the wait through ctx.
func (l *Locker) Acquire(ctx context.Context, name string, ttl, interval time.Duration) (*Handle, error) {
	op := func() (*Handle, error) {
		h, err := l.TryAcquire(ctx, name, ttl)
		if err != nil && !errors.Is(err, ErrNotAcquired) {
			return nil, backoff.Permanent(err)
		}
		return h, err
	}

	h, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		}
		return nil, err
	}

	l.logger.Debug("lock acquired after wait", zap.String("key", h.key))
	return h, nil
}

// Release deletes the lock if and only if it still carries this handle's
// token. It reports false when the lock expired and now belongs to another
// holder, in which case nothing is deleted.
func (h *Handle) Release(ctx context.Context) (bool, error) {
	n, err := unlockScript.Run(ctx, h.rdb, []string{h.key}, h.token).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", h.key, err)
	}
	return n == 1, nil
}
