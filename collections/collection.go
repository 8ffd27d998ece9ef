package collections

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/store"
)

// Collection is a named remote list. The same type serves lists, queues and
// deques; Kind only records how it was opened.
type Collection[V any] struct {
	name  string
	kind  store.Kind
	st    store.Lists
	codec c.Codec[V]
}

func NewList[V any](st store.Lists, name string, codec c.Codec[V]) *Collection[V] {
	return &Collection[V]{name: name, kind: store.KindList, st: st, codec: codec}
}

func NewQueue[V any](st store.Lists, name string, codec c.Codec[V]) *Collection[V] {
	return &Collection[V]{name: name, kind: store.KindQueue, st: st, codec: codec}
}

func NewDeque[V any](st store.Lists, name string, codec c.Codec[V]) *Collection[V] {
	return &Collection[V]{name: name, kind: store.KindDeque, st: st, codec: codec}
}

func (q *Collection[V]) Name() string { return q.name }

func (q *Collection[V]) Kind() store.Kind { return q.kind }

func (q *Collection[V]) Descriptor() store.NamedCollection {
	return store.NamedCollection{Name: q.name, Kind: q.kind}
}

func (q *Collection[V]) encode(vs []V) ([][]byte, error) {
	out := make([][]byte, len(vs))
	for i, v := range vs {
		b, err := q.codec.Encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (q *Collection[V]) push(ctx context.Context, side store.Side, vs []V) (int64, error) {
	raw, err := q.encode(vs)
	if err != nil {
		return 0, err
	}
	return q.st.Push(ctx, q.name, side, raw...)
}

// Add appends v at the tail.
func (q *Collection[V]) Add(ctx context.Context, v V) error {
	_, err := q.push(ctx, store.Back, []V{v})
	return err
}

// AddAll appends vs at the tail in order and returns the new length.
func (q *Collection[V]) AddAll(ctx context.Context, vs ...V) (int64, error) {
	return q.push(ctx, store.Back, vs)
}

// Push appends v at the tail and returns the new length.
func (q *Collection[V]) Push(ctx context.Context, v V) (int64, error) {
	return q.push(ctx, store.Back, []V{v})
}

// PushFront inserts v at the head and returns the new length.
func (q *Collection[V]) PushFront(ctx context.Context, v V) (int64, error) {
	return q.push(ctx, store.Front, []V{v})
}

func (q *Collection[V]) decode(b []byte, ok bool, err error) (V, bool, error) {
	var zero V
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := q.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Poll removes and returns the head without waiting.
func (q *Collection[V]) Poll(ctx context.Context) (V, bool, error) {
	return q.decode(q.st.Pop(ctx, q.name, store.Front))
}

// PollLast removes and returns the tail without waiting (stack pop).
func (q *Collection[V]) PollLast(ctx context.Context) (V, bool, error) {
	return q.decode(q.st.Pop(ctx, q.name, store.Back))
}

// BlockingPop waits up to timeout for the head. A timeout is ok=false with a
// nil error. timeout <= 0 waits until ctx is done. Cancelling ctx removes
// nothing.
func (q *Collection[V]) BlockingPop(ctx context.Context, timeout time.Duration) (V, bool, error) {
	return q.decode(q.st.BlockingPop(ctx, q.name, store.Front, timeout))
}

// BlockingPopLast is BlockingPop from the tail.
func (q *Collection[V]) BlockingPopLast(ctx context.Context, timeout time.Duration) (V, bool, error) {
	return q.decode(q.st.BlockingPop(ctx, q.name, store.Back, timeout))
}

// Take streams elements from the head until ctx is done or a pop fails. The
// value channel closes when the stream ends; a failure other than ctx ending
// is sent on the error channel first. An element popped while the consumer
// is gone is put back at the head.
func (q *Collection[V]) Take(ctx context.Context) (<-chan V, <-chan error) {
	out := make(chan V)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for {
			raw, ok, err := q.st.BlockingPop(ctx, q.name, store.Front, 0)
			if err != nil {
				if ctx.Err() == nil {
					errc <- err
				}
				return
			}
			if !ok {
				continue
			}
			v, err := q.codec.Decode(raw)
			if err != nil {
				errc <- err
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				_, _ = q.st.Push(context.WithoutCancel(ctx), q.name, store.Front, raw)
				return
			}
		}
	}()
	return out, errc
}

func (q *Collection[V]) Size(ctx context.Context) (int64, error) {
	return q.st.Len(ctx, q.name)
}

// Range returns elements start..stop inclusive; negative indexes count from
// the end (-1 is the tail).
func (q *Collection[V]) Range(ctx context.Context, start, stop int64) ([]V, error) {
	raw, err := q.st.Range(ctx, q.name, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(raw))
	for _, b := range raw {
		v, err := q.codec.Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
