package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes generated messages. Encoding is deterministic so equal
// messages (map fields included) produce equal bytes.
type Protobuf[T proto.Message] struct {
	alloc func() T
}

var marshal = proto.MarshalOptions{Deterministic: true}

// NewProtobuf takes a constructor for an empty message, for example
// func() *pb.User { return new(pb.User) }.
func NewProtobuf[T proto.Message](alloc func() T) Protobuf[T] {
	return Protobuf[T]{alloc: alloc}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	b, err := marshal.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf codec: %w", err)
	}
	return b, nil
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.alloc()
	if err := proto.Unmarshal(b, m); err != nil {
		return m, fmt.Errorf("protobuf codec: %w", err)
	}
	return m, nil
}
