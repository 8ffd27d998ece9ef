package coherent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	c "github.com/unkn0wn-root/coherent/codec"
	gen "github.com/unkn0wn-root/coherent/genstore"
	"github.com/unkn0wn-root/coherent/internal/util"
	"github.com/unkn0wn-root/coherent/internal/wire"
	pr "github.com/unkn0wn-root/coherent/provider"
	"github.com/unkn0wn-root/coherent/provider/lru"
)

const (
	defaultCacheSize          = 10000
	defaultTombstoneRetention = 10 * time.Minute
	defaultSweep              = time.Minute
	floorsPerEntry            = 4
	lockStripes               = 256
)

// LocalCache is the in-process half of a coherent map: key -> (value, version).
//
// Entries are stored in the provider as version frames, so a reader always
// sees a matching (value, version) pair. Mutations of one key are serialized
// by a striped lock; different keys rarely contend.
//
// Every version the cache accepts is also recorded as a per-key floor in a
// GenStore. The floor outlives the entry (eviction, invalidation), so an old
// event arriving late is still recognized as old. The default GenStore holds
// at most MaxTombstones floors, least recently observed dropped first.
type LocalCache[V any] struct {
	name     string
	provider pr.Provider
	codec    c.Codec[V]
	floors   gen.GenStore
	strategy SyncStrategy
	setCost  SetCostFunc
	log      Logger
	hooks    Hooks

	epoch atomic.Uint64 // bumped by Clear
	locks [lockStripes]sync.Mutex
}

// NewLocalCache builds a standalone local cache. Only Name and Codec are
// required; Store and ReconnectionPolicy are ignored.
func NewLocalCache[V any](opts Options[V]) (*LocalCache[V], error) {
	if opts.Name == "" {
		return nil, ErrEmptyName
	}
	if opts.Codec == nil {
		return nil, errors.New("coherent: codec is required")
	}

	lc := &LocalCache[V]{
		name:     opts.Name,
		codec:    opts.Codec,
		strategy: coalesce[SyncStrategy](opts.SyncStrategy, SyncUpdate),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
	}

	if opts.SetCost != nil {
		lc.setCost = opts.SetCost
	} else {
		lc.setCost = func(string, []byte) int64 { return 1 }
	}

	if opts.Provider != nil {
		lc.provider = opts.Provider
	} else {
		p, err := lru.New(lru.Config{Size: coalesce(opts.CacheSize, defaultCacheSize)})
		if err != nil {
			return nil, fmt.Errorf("coherent: default provider: %w", err)
		}
		lc.provider = p
	}

	if opts.GenStore != nil {
		lc.floors = opts.GenStore
	} else {
		lc.floors = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.TombstoneRetention, defaultTombstoneRetention),
			coalesce(opts.MaxTombstones, floorsPerEntry*coalesce(opts.CacheSize, defaultCacheSize)),
		)
	}
	return lc, nil
}

func (lc *LocalCache[V]) Name() string { return lc.name }

func (lc *LocalCache[V]) Strategy() SyncStrategy { return lc.strategy }

func (lc *LocalCache[V]) lock(key string) *sync.Mutex {
	return &lc.locks[util.Stripe(key, lockStripes)]
}

// entry reads the frame of key. Corrupt frames are dropped and read as a miss.
func (lc *LocalCache[V]) entry(ctx context.Context, key string) (payload []byte, ver uint64, ok bool) {
	raw, ok, err := lc.provider.Get(ctx, key)
	if err != nil {
		lc.log.Debug("provider get failed", Fields{"map": lc.name, "key": key, "err": err})
		return nil, 0, false
	}
	if !ok {
		return nil, 0, false
	}
	ver, payload, err = wire.DecodeValue(raw)
	if err != nil {
		_ = lc.provider.Del(ctx, key) // self-heal corrupt
		return nil, 0, false
	}
	return payload, ver, true
}

// current is the newest version known for key: its entry or its floor.
// Caller holds the key lock.
func (lc *LocalCache[V]) current(ctx context.Context, key string) uint64 {
	_, ver, _ := lc.entry(ctx, key)
	floor, err := lc.floors.Snapshot(ctx, key)
	if err != nil {
		lc.log.Warn("version floor snapshot failed", Fields{"map": lc.name, "key": key, "err": err})
	}
	return max(ver, floor)
}

// Get returns the cached value of key. A miss (ok=false) means the caller
// should read through to the store.
func (lc *LocalCache[V]) Get(ctx context.Context, key string) (V, bool) {
	v, _, ok := lc.Lookup(ctx, key)
	return v, ok
}

// Lookup is Get plus the entry's version.
func (lc *LocalCache[V]) Lookup(ctx context.Context, key string) (V, uint64, bool) {
	var zero V
	payload, ver, ok := lc.entry(ctx, key)
	if !ok {
		return zero, 0, false
	}
	v, err := lc.codec.Decode(payload)
	if err != nil {
		_ = lc.provider.Del(ctx, key) // self-heal
		lc.log.Debug("cached value decode failed", Fields{"map": lc.name, "key": key, "err": err})
		return zero, 0, false
	}
	return v, ver, true
}

// Populate inserts a value fetched from the store. It is skipped when the
// cache already knows a newer version, so an entry's version never decreases.
func (lc *LocalCache[V]) Populate(ctx context.Context, key string, value V, version uint64) (bool, error) {
	payload, err := lc.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return lc.populate(ctx, key, payload, version, lc.epoch.Load()), nil
}

// populate is Populate for an encoded value. epoch is the Clear epoch seen
// before the store read; a read that straddles a Clear is discarded.
func (lc *LocalCache[V]) populate(ctx context.Context, key string, payload []byte, version, epoch uint64) bool {
	mu := lc.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if lc.epoch.Load() != epoch || version < lc.current(ctx, key) {
		lc.hooks.ReadThroughSkipped(lc.name, key)
		return false
	}
	lc.store(ctx, key, payload, version)
	return true
}

// ApplyLocalWrite records a successful local write. The entry is always
// replaced. storeVersion is the version the store assigned to the write; 0
// means the caller has none and the entry's version is incremented instead.
// It returns the version stamped on the entry.
func (lc *LocalCache[V]) ApplyLocalWrite(ctx context.Context, key string, value V, storeVersion uint64) (uint64, error) {
	payload, err := lc.codec.Encode(value)
	if err != nil {
		return 0, err
	}
	return lc.applyLocalWrite(ctx, key, payload, storeVersion), nil
}

func (lc *LocalCache[V]) applyLocalWrite(ctx context.Context, key string, payload []byte, storeVersion uint64) uint64 {
	mu := lc.lock(key)
	mu.Lock()
	defer mu.Unlock()

	cur := lc.current(ctx, key)
	ver := storeVersion
	switch {
	case storeVersion == 0:
		ver = cur + 1
	case storeVersion < cur:
		// A newer remote write reached the store first; our value is the
		// older one. Drop the entry so the next read fetches the winner.
		_ = lc.provider.Del(ctx, key)
		lc.log.Debug("local write superseded", Fields{"map": lc.name, "key": key, "version": storeVersion, "current": cur})
		return cur
	}
	lc.store(ctx, key, payload, ver)
	return ver
}

// applyLocalDelete records a successful delete with its tombstone version.
func (lc *LocalCache[V]) applyLocalDelete(ctx context.Context, key string, version uint64) {
	mu := lc.lock(key)
	mu.Lock()
	defer mu.Unlock()
	_ = lc.provider.Del(ctx, key)
	lc.observe(ctx, key, version)
}

// ApplyRemoteEvent feeds an inbound event through Decide and applies the
// resulting action.
func (lc *LocalCache[V]) ApplyRemoteEvent(ctx context.Context, ev Event[V]) (Action, error) {
	var payload []byte
	if ev.Kind == EventUpdate {
		p, err := lc.codec.Encode(ev.Value)
		if err != nil {
			return ActionIgnore, err
		}
		payload = p
	}
	return lc.applyEvent(ctx, ev.Key, ev.Kind, ev.Version, payload), nil
}

func (lc *LocalCache[V]) applyEvent(ctx context.Context, key string, kind EventKind, version uint64, payload []byte) Action {
	mu := lc.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if lc.strategy == SyncNone {
		return ActionIgnore
	}
	cur := lc.current(ctx, key)
	act := Decide(lc.strategy, kind, version, cur)
	switch act {
	case ActionIgnore:
		lc.hooks.StaleEventDiscarded(lc.name, key, version, cur)
	case ActionReplace:
		lc.store(ctx, key, payload, version)
	case ActionRemove:
		_ = lc.provider.Del(ctx, key)
		lc.observe(ctx, key, version)
	}
	if act != ActionIgnore {
		lc.hooks.EventApplied(lc.name, key, act.String())
	}
	return act
}

// store writes the frame and raises the floor. Caller holds the key lock.
func (lc *LocalCache[V]) store(ctx context.Context, key string, payload []byte, version uint64) {
	frame := wire.EncodeValue(version, payload)
	ok, err := lc.provider.Set(ctx, key, frame, lc.setCost(key, frame), 0)
	if err != nil {
		lc.log.Warn("provider set failed", Fields{"map": lc.name, "key": key, "err": err})
		_ = lc.provider.Del(ctx, key)
	} else if !ok {
		lc.hooks.ProviderSetRejected(key)
		lc.log.Debug("provider rejected set (pressure)", Fields{"map": lc.name, "key": key})
	}
	lc.observe(ctx, key, version)
}

func (lc *LocalCache[V]) observe(ctx context.Context, key string, version uint64) {
	if _, err := lc.floors.Observe(ctx, key, version); err != nil {
		lc.log.Warn("version floor update failed", Fields{"map": lc.name, "key": key, "err": err})
	}
}

// Evict drops the entry of key. Its version floor is kept.
func (lc *LocalCache[V]) Evict(ctx context.Context, key string) {
	mu := lc.lock(key)
	mu.Lock()
	defer mu.Unlock()
	_ = lc.provider.Del(ctx, key)
}

// Clear flushes every entry and every version floor. Reads that started
// before Clear do not repopulate the cache.
func (lc *LocalCache[V]) Clear(ctx context.Context) error {
	for i := range lc.locks {
		lc.locks[i].Lock()
	}
	defer func() {
		for i := range lc.locks {
			lc.locks[i].Unlock()
		}
	}()

	n := lc.Len()
	lc.epoch.Add(1)
	err := lc.provider.Clear(ctx)
	if rerr := lc.floors.Reset(ctx); err == nil {
		err = rerr
	}
	lc.hooks.CacheFlushed(lc.name, n)
	lc.log.Info("local cache flushed", Fields{"map": lc.name, "entries": n})
	return err
}

// Len is the number of cached entries, or -1 if the provider cannot tell.
func (lc *LocalCache[V]) Len() int {
	if l, ok := lc.provider.(interface{ Len() int }); ok {
		return l.Len()
	}
	return -1
}

// Keys lists cached keys when the provider supports it.
func (lc *LocalCache[V]) Keys() []string {
	if k, ok := lc.provider.(interface{ Keys() []string }); ok {
		return k.Keys()
	}
	return nil
}

func (lc *LocalCache[V]) Close(ctx context.Context) error {
	_ = lc.floors.Close(ctx)
	return lc.provider.Close(ctx)
}
