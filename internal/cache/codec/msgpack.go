package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values using vmihailenco/msgpack/v5.
// Use `msgpack:"name"` tags where field names must match the JSON shape.
type Msgpack struct{}

func (Msgpack) Name() string                       { return NameMsgpack }
func (Msgpack) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
