package collections

import (
	"context"

	c "github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/store"
)

// ScoredEntry is a member of a sorted set with its score.
type ScoredEntry[V any] struct {
	Value V
	Score float64
}

// SortedSet orders members by ascending score; equal scores are ordered by
// the encoded bytes of the member, as the store orders them.
type SortedSet[V any] struct {
	name  string
	st    store.SortedSets
	codec c.Codec[V]
}

func NewSortedSet[V any](st store.SortedSets, name string, codec c.Codec[V]) *SortedSet[V] {
	return &SortedSet[V]{name: name, st: st, codec: codec}
}

func (z *SortedSet[V]) Name() string { return z.name }

func (z *SortedSet[V]) Descriptor() store.NamedCollection {
	return store.NamedCollection{Name: z.name, Kind: store.KindSortedSet}
}

// Add sets the score of v; added reports whether v is new.
func (z *SortedSet[V]) Add(ctx context.Context, score float64, v V) (bool, error) {
	m, err := z.codec.Encode(v)
	if err != nil {
		return false, err
	}
	return z.st.Add(ctx, z.name, m, score)
}

// AddScore adds delta to v's score, creating v with score=delta if absent.
func (z *SortedSet[V]) AddScore(ctx context.Context, v V, delta float64) (float64, error) {
	m, err := z.codec.Encode(v)
	if err != nil {
		return 0, err
	}
	return z.st.IncrBy(ctx, z.name, m, delta)
}

// RangeByRank returns ranks start..stop inclusive in ascending order.
func (z *SortedSet[V]) RangeByRank(ctx context.Context, start, stop int64) ([]ScoredEntry[V], error) {
	raw, err := z.st.RangeByRank(ctx, z.name, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntry[V], 0, len(raw))
	for _, e := range raw {
		v, err := z.codec.Decode(e.Member)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntry[V]{Value: v, Score: e.Score})
	}
	return out, nil
}

func (z *SortedSet[V]) Score(ctx context.Context, v V) (float64, bool, error) {
	m, err := z.codec.Encode(v)
	if err != nil {
		return 0, false, err
	}
	return z.st.Score(ctx, z.name, m)
}

// Rank is v's zero-based position in ascending order.
func (z *SortedSet[V]) Rank(ctx context.Context, v V) (int64, bool, error) {
	m, err := z.codec.Encode(v)
	if err != nil {
		return 0, false, err
	}
	return z.st.Rank(ctx, z.name, m)
}

func (z *SortedSet[V]) Remove(ctx context.Context, v V) (bool, error) {
	m, err := z.codec.Encode(v)
	if err != nil {
		return false, err
	}
	return z.st.Remove(ctx, z.name, m)
}

func (z *SortedSet[V]) Size(ctx context.Context) (int64, error) {
	return z.st.Card(ctx, z.name)
}
