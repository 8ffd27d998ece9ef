package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by LimitCodec for payloads above its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// LimitCodec bounds the encoded size of values in both directions. Every
// client of a map must be able to read what any client writes, so a value
// too large to decode is also refused at Encode. Max <= 0 disables the check.
type LimitCodec[V any] struct {
	Inner Codec[V]
	Max   int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if err := c.check(len(b)); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode refuses oversized input without calling Inner.
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if err := c.check(len(b)); err != nil {
		var zero V
		return zero, err
	}
	return c.Inner.Decode(b)
}

func (c LimitCodec[V]) check(n int) error {
	if c.Max > 0 && n > c.Max {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, n, c.Max)
	}
	return nil
}
