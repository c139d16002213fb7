package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes proto.Message values deterministically. Marshal and
// Unmarshal fail for anything that is not a proto.Message.
type Protobuf struct{}

var _ Codec = Protobuf{}

func (Protobuf) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: %T is not a proto.Message", v)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (Protobuf) Unmarshal(b []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: %T is not a proto.Message", v)
	}
	return proto.Unmarshal(b, m)
}
