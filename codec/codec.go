// Package codec converts namespace values to and from the bytes kept by a
// provider.
//
// The store compares encoded bytes to decide whether a write changed a
// namespace, so codecs used with it should be deterministic: the same value
// must always encode to the same bytes.
package codec

// Codec encodes/decodes values to []byte for storage.
// Unmarshal receives a pointer to the destination.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}
