package codec

import "encoding/json"

type JSON struct{}

func (JSON) Name() string                       { return NameJSON }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
