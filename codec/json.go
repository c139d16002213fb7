package codec

import json "github.com/goccy/go-json"

// JSON encodes with goccy/go-json. Map keys are emitted sorted, so output is
// deterministic for plain structs, slices and maps.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
