package cache

import (
	"context"
	"fmt"
)

// Status tells a caller how a lookup was answered.
type Status int

const (
	// StatusAbsent: nothing is known for the key. On the load-through paths
	// this also means the loader confirmed the item does not exist.
	StatusAbsent Status = iota
	// StatusNegativeHit: a tombstone says the item does not exist.
	StatusNegativeHit
	// StatusHit: served from the cache store.
	StatusHit
	// StatusLoaded: cache miss answered by the loader and written back.
	StatusLoaded
	// StatusStale: logically expired value served while a rebuild runs.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusNegativeHit:
		return "negative_hit"
	case StatusHit:
		return "hit"
	case StatusLoaded:
		return "loaded"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of a cache read. Value is meaningful only when Found.
type Result[T any] struct {
	Value  T
	Status Status
}

func (r Result[T]) Found() bool {
	return r.Status == StatusHit || r.Status == StatusLoaded || r.Status == StatusStale
}

// Loader fetches the authoritative value for id. found=false means the item
// does not exist; a non-nil error means the answer is unknown.
type Loader[ID, T any] func(ctx context.Context, id ID) (value T, found bool, err error)

// Key joins a key prefix and an id the way every cache path does.
func Key[ID any](prefix string, id ID) string {
	return prefix + fmt.Sprint(id)
}
