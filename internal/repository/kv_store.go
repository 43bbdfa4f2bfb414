package repository

import (
	"context"
	"time"
)

// KVStore abstracts the string key-value half of the cache store.
// A stored empty value is distinct from an absent key: Get reports it with
// found=true and a zero-length value.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
