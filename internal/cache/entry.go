package cache

import (
	"fmt"
	"time"

	"dianping/shophub/internal/cache/codec"
)

// Entry wraps a payload with the instant after which it is logically stale.
// Entries written by StoreWithLogicalExpiry carry no store-level TTL.
type Entry[T any] struct {
	Data     T         `json:"data" msgpack:"data" cbor:"data"`
	ExpireAt time.Time `json:"expireTime" msgpack:"expireTime" cbor:"expireTime"`
}

// Expired reports whether the entry is stale at now. An entry whose expiry
// equals now is stale.
func (e Entry[T]) Expired(now time.Time) bool {
	return !now.Before(e.ExpireAt)
}

// isTombstone reports whether raw is the negative-cache marker.
func isTombstone(raw []byte) bool { return len(raw) == 0 }

func encodeEntry(c codec.Codec, value any, expireAt time.Time) ([]byte, error) {
	data, err := c.Marshal(Entry[any]{Data: value, ExpireAt: expireAt})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return data, nil
}

func decodeEntry[T any](c codec.Codec, raw []byte) (Entry[T], error) {
	var e Entry[T]
	if err := c.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}
