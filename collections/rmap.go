package collections

import (
	"context"

	c "github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/store"
)

// RMap is a remote map without a local cache.
type RMap[V any] struct {
	name  string
	st    store.Maps
	codec c.Codec[V]
}

func NewRMap[V any](st store.Maps, name string, codec c.Codec[V]) *RMap[V] {
	return &RMap[V]{name: name, st: st, codec: codec}
}

func (m *RMap[V]) Name() string { return m.name }

func (m *RMap[V]) Descriptor() store.NamedCollection {
	return store.NamedCollection{Name: m.name, Kind: store.KindMap}
}

// Put stores v and returns the version the store assigned.
func (m *RMap[V]) Put(ctx context.Context, key string, v V) (uint64, error) {
	b, err := m.codec.Encode(v)
	if err != nil {
		return 0, err
	}
	return m.st.Put(ctx, m.name, key, b)
}

func (m *RMap[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, _, ok, err := m.st.Get(ctx, m.name, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := m.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (m *RMap[V]) Delete(ctx context.Context, key string) (bool, error) {
	deleted, _, err := m.st.Delete(ctx, m.name, key)
	return deleted, err
}

func (m *RMap[V]) Size(ctx context.Context) (int64, error) {
	return m.st.Size(ctx, m.name)
}
