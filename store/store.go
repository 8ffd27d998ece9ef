// Package store defines the remote store proxy consumed by coherent maps and
// the collection façades. Implementations are stateless RPC facades over a
// shared cluster and must be safe for concurrent use by many callers.
//
// Values cross this boundary as opaque bytes; encoding is the caller's concern.
package store

import (
	"context"
	"time"
)

// Maps is a versioned key/value map keyed by map name. Every successful write
// assigns the key a new version that is strictly greater than any version the
// key had before, including across deletes.
type Maps interface {
	// Get returns found=false when the key is absent.
	Get(ctx context.Context, mapName, key string) (value []byte, version uint64, found bool, err error)
	// GetMany returns only the keys that exist.
	GetMany(ctx context.Context, mapName string, keys []string) (map[string]Versioned, error)
	// Put stores value and returns its version.
	Put(ctx context.Context, mapName, key string, value []byte) (version uint64, err error)
	// Delete removes key. When deleted is true, version is the tombstone version.
	Delete(ctx context.Context, mapName, key string) (deleted bool, version uint64, err error)
	// Size returns the number of entries in the map.
	Size(ctx context.Context, mapName string) (int64, error)
}

// Versioned is a value with the version the store assigned to it.
type Versioned struct {
	Value   []byte
	Version uint64
}

// Lists backs lists, queues and deques.
type Lists interface {
	// Push appends values on side and returns the new length.
	Push(ctx context.Context, list string, side Side, values ...[]byte) (int64, error)
	// Pop removes one element from side without waiting.
	Pop(ctx context.Context, list string, side Side) ([]byte, bool, error)
	// BlockingPop waits until an element is available on side or timeout
	// elapses (ok=false, err=nil). timeout <= 0 waits until ctx is done.
	// Each element is delivered to exactly one caller. Cancelling ctx never
	// removes an element that is not returned.
	BlockingPop(ctx context.Context, list string, side Side, timeout time.Duration) ([]byte, bool, error)
	// Len returns the number of elements.
	Len(ctx context.Context, list string) (int64, error)
	// Range returns elements start..stop inclusive; negative indexes count from the end.
	Range(ctx context.Context, list string, start, stop int64) ([][]byte, error)
}

// SortedSets orders members by score, ties broken by the byte order of the
// member (the same rule Redis applies).
type SortedSets interface {
	// Add sets member's score; added reports whether member is new.
	Add(ctx context.Context, set string, member []byte, score float64) (added bool, err error)
	// IncrBy adds delta to member's score, creating it with score=delta.
	IncrBy(ctx context.Context, set string, member []byte, delta float64) (float64, error)
	// RangeByRank returns ranks start..stop inclusive in ascending order;
	// negative indexes count from the end.
	RangeByRank(ctx context.Context, set string, start, stop int64) ([]ScoredEntry, error)
	Score(ctx context.Context, set string, member []byte) (float64, bool, error)
	Rank(ctx context.Context, set string, member []byte) (int64, bool, error)
	Remove(ctx context.Context, set string, member []byte) (bool, error)
	Card(ctx context.Context, set string) (int64, error)
}

// ScoredEntry is a sorted-set member with its score.
type ScoredEntry struct {
	Member []byte
	Score  float64
}

// PubSub is fan-out messaging: every live subscription of a channel receives
// every message published after it subscribed.
type PubSub interface {
	// Publish returns the number of subscriptions that received msg.
	Publish(ctx context.Context, channel string, msg []byte) (int64, error)
	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live channel subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan []byte
	// Err reports why Messages was closed; nil after Close.
	Err() error
	// Close ends the subscription. Safe to call more than once.
	Close() error
}

// Coherent is what a coherent map needs: versioned data plus a channel.
type Coherent interface {
	Maps
	PubSub
}

// Store is the full proxy.
type Store interface {
	Maps
	Lists
	SortedSets
	PubSub
	Close(ctx context.Context) error
}

// Side selects the end of a list.
type Side int

const (
	Front Side = iota
	Back
)

func (s Side) String() string {
	if s == Back {
		return "back"
	}
	return "front"
}
