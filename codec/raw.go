package codec

import "fmt"

// Raw is an identity codec for []byte and string values, for namespaces that
// cache a server body verbatim. Unmarshal accepts *[]byte or *string.
type Raw struct{}

var _ Codec = Raw{}

func (Raw) Marshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return append([]byte(nil), x...), nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("codec: raw cannot marshal %T", v)
	}
}

func (Raw) Unmarshal(b []byte, v any) error {
	switch x := v.(type) {
	case *[]byte:
		*x = append([]byte(nil), b...)
		return nil
	case *string:
		*x = string(b)
		return nil
	default:
		return fmt.Errorf("codec: raw cannot unmarshal into %T", v)
	}
}
