package coherent

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/coherent/codec"
	gen "github.com/unkn0wn-root/coherent/genstore"
	"github.com/unkn0wn-root/coherent/internal/wire"
	pr "github.com/unkn0wn-root/coherent/provider"
)

type memProvider struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = value
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Clear(_ context.Context) error {
	p.mu.Lock()
	p.m = make(map[string][]byte)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T, s SyncStrategy, mp pr.Provider) *LocalCache[user] {
	t.Helper()
	lc, err := NewLocalCache(Options[user]{
		Name:         "users",
		Codec:        c.JSON[user]{},
		SyncStrategy: s,
		Provider:     mp,
	})
	if err != nil {
		t.Fatalf("NewLocalCache: %v", err)
	}
	t.Cleanup(func() { _ = lc.Close(context.Background()) })
	return lc
}

func update(key, name string, ver uint64) Event[user] {
	return Event[user]{Key: key, Kind: EventUpdate, Value: user{ID: key, Name: name}, Version: ver}
}

func invalidate(key string, ver uint64) Event[user] {
	return Event[user]{Key: key, Kind: EventInvalidate, Version: ver}
}

func TestNewLocalCacheValidation(t *testing.T) {
	if _, err := NewLocalCache(Options[user]{Codec: c.JSON[user]{}}); err != ErrEmptyName {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := NewLocalCache(Options[user]{Name: "x"}); err == nil {
		t.Fatalf("expected codec error")
	}
	lc, err := NewLocalCache(Options[user]{Name: "x", Codec: c.JSON[user]{}})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	defer lc.Close(context.Background())
	if lc.Strategy() != SyncUpdate {
		t.Fatalf("default strategy = %v", lc.Strategy())
	}
	if lc.Len() != 0 {
		t.Fatalf("default LRU provider should report Len 0, got %d", lc.Len())
	}
}

func TestPopulateAndGet(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())

	if _, ok := lc.Get(ctx, "a"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if ok, err := lc.Populate(ctx, "a", user{ID: "a", Name: "Ada"}, 3); err != nil || !ok {
		t.Fatalf("Populate: ok=%v err=%v", ok, err)
	}
	v, ver, ok := lc.Lookup(ctx, "a")
	if !ok || v.Name != "Ada" || ver != 3 {
		t.Fatalf("Lookup = %+v ver=%d ok=%v", v, ver, ok)
	}

	// an older read-through result never lowers the version
	if ok, _ := lc.Populate(ctx, "a", user{ID: "a", Name: "Old"}, 2); ok {
		t.Fatalf("older populate must be skipped")
	}
	if v, _ := lc.Get(ctx, "a"); v.Name != "Ada" {
		t.Fatalf("older populate overwrote entry: %+v", v)
	}
}

func TestApplyLocalWriteVersions(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())

	ver, err := lc.ApplyLocalWrite(ctx, "a", user{Name: "v1"}, 0)
	if err != nil || ver != 1 {
		t.Fatalf("first write ver=%d err=%v", ver, err)
	}
	ver, _ = lc.ApplyLocalWrite(ctx, "a", user{Name: "v2"}, 0)
	if ver != 2 {
		t.Fatalf("second write should increment, got %d", ver)
	}
	ver, _ = lc.ApplyLocalWrite(ctx, "a", user{Name: "v10"}, 10)
	if ver != 10 {
		t.Fatalf("store version should be stamped, got %d", ver)
	}
	if v, _ := lc.Get(ctx, "a"); v.Name != "v10" {
		t.Fatalf("entry not replaced: %+v", v)
	}
}

func TestApplyLocalWriteSupersededDropsEntry(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())

	if _, err := lc.ApplyRemoteEvent(ctx, update("a", "remote", 7)); err != nil {
		t.Fatalf("ApplyRemoteEvent: %v", err)
	}
	// our write landed at the store before the remote one
	ver, _ := lc.ApplyLocalWrite(ctx, "a", user{Name: "local"}, 6)
	if ver != 7 {
		t.Fatalf("expected current version 7, got %d", ver)
	}
	if _, ok := lc.Get(ctx, "a"); ok {
		t.Fatalf("superseded local write should leave a miss")
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		s       SyncStrategy
		kind    EventKind
		ev, cur uint64
		want    Action
	}{
		{SyncNone, EventUpdate, 5, 0, ActionIgnore},
		{SyncNone, EventInvalidate, 5, 1, ActionIgnore},
		{SyncInvalidate, EventUpdate, 5, 4, ActionRemove},
		{SyncInvalidate, EventInvalidate, 5, 0, ActionRemove},
		{SyncInvalidate, EventUpdate, 5, 5, ActionIgnore},
		{SyncInvalidate, EventUpdate, 4, 5, ActionIgnore},
		{SyncUpdate, EventUpdate, 5, 4, ActionReplace},
		{SyncUpdate, EventUpdate, 1, 0, ActionReplace},
		{SyncUpdate, EventInvalidate, 5, 4, ActionRemove},
		{SyncUpdate, EventUpdate, 5, 5, ActionIgnore},
		{SyncUpdate, EventUpdate, 3, 5, ActionIgnore},
	}
	for _, tc := range cases {
		if got := Decide(tc.s, tc.kind, tc.ev, tc.cur); got != tc.want {
			t.Fatalf("Decide(%v,%v,%d,%d)=%v want %v", tc.s, tc.kind, tc.ev, tc.cur, got, tc.want)
		}
	}
}

func TestStrategyNoneNeverChangesCache(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncNone, newMemProvider())
	_, _ = lc.Populate(ctx, "a", user{Name: "orig"}, 1)

	for _, ev := range []Event[user]{update("a", "new", 9), invalidate("a", 10), update("b", "x", 1)} {
		if act, _ := lc.ApplyRemoteEvent(ctx, ev); act != ActionIgnore {
			t.Fatalf("SyncNone applied %v", act)
		}
	}
	if v, ok := lc.Get(ctx, "a"); !ok || v.Name != "orig" {
		t.Fatalf("SyncNone changed entry: %+v ok=%v", v, ok)
	}
	if _, ok := lc.Get(ctx, "b"); ok {
		t.Fatalf("SyncNone inserted an entry")
	}
}

func TestStrategyInvalidateRemoves(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncInvalidate, newMemProvider())
	_, _ = lc.Populate(ctx, "a", user{Name: "orig"}, 1)

	if act, _ := lc.ApplyRemoteEvent(ctx, update("a", "new", 2)); act != ActionRemove {
		t.Fatalf("expected remove, got %v", act)
	}
	if _, ok := lc.Get(ctx, "a"); ok {
		t.Fatalf("newer event must cause a miss")
	}
}

func TestStrategyUpdateReplaces(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())
	_, _ = lc.Populate(ctx, "a", user{Name: "orig"}, 1)

	if act, _ := lc.ApplyRemoteEvent(ctx, update("a", "new", 2)); act != ActionReplace {
		t.Fatalf("expected replace, got %v", act)
	}
	v, ver, ok := lc.Lookup(ctx, "a")
	if !ok || v.Name != "new" || ver != 2 {
		t.Fatalf("Lookup = %+v ver=%d ok=%v", v, ver, ok)
	}
}

func TestIdempotentEventApplication(t *testing.T) {
	ctx := context.Background()
	seq := []Event[user]{
		update("k", "v1", 1),
		update("k", "v3", 3),
		update("k", "v2", 2), // late
		update("k", "v3", 3), // duplicate
		update("k", "v1", 1), // very late
	}
	lc := newTestCache(t, SyncUpdate, newMemProvider())
	for _, ev := range seq {
		if _, err := lc.ApplyRemoteEvent(ctx, ev); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	only := newTestCache(t, SyncUpdate, newMemProvider())
	_, _ = only.ApplyRemoteEvent(ctx, update("k", "v3", 3))

	a, av, _ := lc.Lookup(ctx, "k")
	b, bv, _ := only.Lookup(ctx, "k")
	if a != b || av != bv {
		t.Fatalf("sequence result %+v@%d differs from highest-only %+v@%d", a, av, b, bv)
	}
}

func TestTombstoneBlocksLateUpdate(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())

	_, _ = lc.ApplyRemoteEvent(ctx, update("a", "v1", 1))
	_, _ = lc.ApplyRemoteEvent(ctx, invalidate("a", 5))
	if act, _ := lc.ApplyRemoteEvent(ctx, update("a", "v4", 4)); act != ActionIgnore {
		t.Fatalf("late update resurrected a removed key: %v", act)
	}
	if _, ok := lc.Get(ctx, "a"); ok {
		t.Fatalf("key should stay absent")
	}
}

func TestEvictKeepsFloor(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	lc := newTestCache(t, SyncUpdate, mp)

	_, _ = lc.ApplyRemoteEvent(ctx, update("a", "v5", 5))
	lc.Evict(ctx, "a")
	if _, ok := lc.Get(ctx, "a"); ok {
		t.Fatalf("evicted key should miss")
	}
	if act, _ := lc.ApplyRemoteEvent(ctx, update("a", "v3", 3)); act != ActionIgnore {
		t.Fatalf("older event after eviction must be ignored, got %v", act)
	}
}

func TestClearDropsEntriesAndFloors(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	lc := newTestCache(t, SyncUpdate, mp)

	_, _ = lc.Populate(ctx, "a", user{Name: "a"}, 4)
	_, _ = lc.Populate(ctx, "b", user{Name: "b"}, 2)
	epoch := lc.epoch.Load()

	if err := lc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mp.Len() != 0 {
		t.Fatalf("provider not cleared: %d", mp.Len())
	}
	// floors are gone: an older version is accepted again
	if ok, _ := lc.Populate(ctx, "a", user{Name: "a1"}, 1); !ok {
		t.Fatalf("populate after Clear should succeed")
	}
	// a read that started before Clear is discarded
	if lc.populate(ctx, "b", []byte(`{"name":"stale"}`), 9, epoch) {
		t.Fatalf("populate straddling Clear must be skipped")
	}
}

func TestCorruptFrameSelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	lc := newTestCache(t, SyncUpdate, mp)

	_, _ = mp.Set(ctx, "bad", []byte("garbage"), 1, 0)
	if _, ok := lc.Get(ctx, "bad"); ok {
		t.Fatalf("corrupt frame should read as miss")
	}
	if _, ok, _ := mp.Get(ctx, "bad"); ok {
		t.Fatalf("corrupt frame should be deleted")
	}

	_, _ = mp.Set(ctx, "undecodable", wire.EncodeValue(1, []byte("{")), 1, 0)
	if _, ok := lc.Get(ctx, "undecodable"); ok {
		t.Fatalf("undecodable payload should read as miss")
	}
	if _, ok, _ := mp.Get(ctx, "undecodable"); ok {
		t.Fatalf("undecodable payload should be deleted")
	}
}

func TestConcurrentWritersDifferentKeys(t *testing.T) {
	ctx := context.Background()
	lc := newTestCache(t, SyncUpdate, newMemProvider())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			for v := uint64(1); v <= 100; v++ {
				_, _ = lc.ApplyRemoteEvent(ctx, update(key, key, v))
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		key := string(rune('a' + i))
		if _, ver, ok := lc.Lookup(ctx, key); !ok || ver != 100 {
			t.Fatalf("key %s ver=%d ok=%v", key, ver, ok)
		}
	}
}

func TestFloorsBoundedByCacheSize(t *testing.T) {
	ctx := context.Background()
	lc, err := NewLocalCache(Options[user]{Name: "users", Codec: c.JSON[user]{}, CacheSize: 10})
	if err != nil {
		t.Fatalf("NewLocalCache: %v", err)
	}
	defer lc.Close(ctx)

	for i := 0; i < 100000; i++ {
		k := strconv.Itoa(i)
		if _, err := lc.Populate(ctx, k, user{ID: k}, 1); err != nil {
			t.Fatalf("Populate: %v", err)
		}
	}
	if n := lc.Len(); n > 10 {
		t.Fatalf("cache entries = %d, want <= 10", n)
	}
	floors := lc.floors.(*gen.LocalGenStore)
	if floors.Cap() >= 100 || floors.Len() > floors.Cap() {
		t.Fatalf("floors = %d (cap %d), want bounded near 4 x CacheSize", floors.Len(), floors.Cap())
	}
}
