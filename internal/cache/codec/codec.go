// Package codec serializes cache payloads to the byte strings held by the
// cache store.
package codec

import "fmt"

// Codec encodes values for storage. Implementations must never produce an
// empty encoding for a value, because the empty string is reserved for
// negative-cache tombstones.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// ByName returns the codec configured under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	case NameCBOR:
		return NewCBOR()
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
