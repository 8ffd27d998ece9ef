package coherent

import (
	"time"

	c "github.com/unkn0wn-root/coherent/codec"
	gen "github.com/unkn0wn-root/coherent/genstore"
	pr "github.com/unkn0wn-root/coherent/provider"
	"github.com/unkn0wn-root/coherent/store"
)

// SetCostFunc sizes a cache frame for cost-aware providers (Ristretto).
type SetCostFunc func(key string, frame []byte) int64

// Options configure a coherent Map (and a standalone LocalCache).
// Name, Store and Codec are required; everything else has a default.
type Options[V any] struct {
	// Required
	Name  string         // map name; also names the coherence channel
	Store store.Coherent // remote store proxy
	Codec c.Codec[V]

	SyncStrategy       SyncStrategy       // 0 => SyncUpdate
	ReconnectionPolicy ReconnectionPolicy // 0 => ReconnectNone

	Provider  pr.Provider // nil => LRU of CacheSize entries; must not be shared
	CacheSize int         // 0 => 10000
	SetCost   SetCostFunc // default 1

	GenStore           gen.GenStore  // version floors; nil => LocalGenStore
	TombstoneRetention time.Duration // 0 => 10m
	CleanupInterval    time.Duration // 0 => 1m
	MaxTombstones      int           // floors kept at most; 0 => 4 x CacheSize

	InitialBackoff time.Duration // resubscribe backoff; 0 => 100ms
	MaxBackoff     time.Duration // 0 => 10s

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}
