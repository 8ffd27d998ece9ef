// Package olric implements store.Coherent on an Olric cluster. Only maps and
// pub/sub are offered; Olric has no list or sorted-set primitives.
//
// Values are stored as version-framed bytes in the DMap named after the map.
// Per-key version counters live in a sibling DMap ("{name}:versions") and are
// advanced under an Olric lock taken in a third DMap ("{name}:locks"), so the
// stored frame and its counter never disagree. Olric keeps a lock's token
// under the locked key itself, which is why locks never share a DMap with
// the counters.
package olric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/olric-data/olric"

	"github.com/unkn0wn-root/coherent/internal/util"
	"github.com/unkn0wn-root/coherent/internal/wire"
	"github.com/unkn0wn-root/coherent/store"
	redisstore "github.com/unkn0wn-root/coherent/store/redis"
)

const (
	defaultLockTTL        = 5 * time.Second
	defaultHealthInterval = 5 * time.Second
)

type Options struct {
	// LockTTL bounds both the wait for and the lifetime of a per-key write
	// lock. 0 => 5s.
	LockTTL time.Duration
	// HealthInterval is the idle period before a subscription is pinged. 0 => 5s.
	HealthInterval time.Duration
}

type Store struct {
	client  olric.Client
	ps      *olric.PubSub
	lockTTL time.Duration
	health  time.Duration

	mu    sync.Mutex
	dmaps map[string]olric.DMap
}

var _ store.Coherent = (*Store)(nil)

// New wraps client. Close closes it.
func New(client olric.Client, opts Options) (*Store, error) {
	ps, err := client.NewPubSub()
	if err != nil {
		return nil, fmt.Errorf("olric: create pubsub: %w", err)
	}
	s := &Store{
		client:  client,
		ps:      ps,
		lockTTL: opts.LockTTL,
		health:  opts.HealthInterval,
		dmaps:   make(map[string]olric.DMap),
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.health <= 0 {
		s.health = defaultHealthInterval
	}
	return s, nil
}

// Dial connects to an Olric cluster.
func Dial(addrs []string, opts Options) (*Store, error) {
	c, err := olric.NewClusterClient(addrs)
	if err != nil {
		return nil, store.Transport("dial", err)
	}
	s, err := New(c, opts)
	if err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Close(ctx) }

func (s *Store) dmap(name string) (olric.DMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dm, ok := s.dmaps[name]; ok {
		return dm, nil
	}
	dm, err := s.client.NewDMap(name)
	if err != nil {
		return nil, store.Transport("dmap", err)
	}
	s.dmaps[name] = dm
	return dm, nil
}

// maps returns the data, version and lock DMaps of a map.
func (s *Store) maps(mapName string) (data, versions, locks olric.DMap, err error) {
	if data, err = s.dmap(mapName); err != nil {
		return nil, nil, nil, err
	}
	if versions, err = s.dmap(util.VersionKey(mapName)); err != nil {
		return nil, nil, nil, err
	}
	if locks, err = s.dmap(util.LockKey(mapName)); err != nil {
		return nil, nil, nil, err
	}
	return data, versions, locks, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return store.Transport(op, err)
}

func (s *Store) Get(ctx context.Context, mapName, key string) ([]byte, uint64, bool, error) {
	dm, err := s.dmap(mapName)
	if err != nil {
		return nil, 0, false, err
	}
	return s.get(ctx, dm, key)
}

func (s *Store) get(ctx context.Context, dm olric.DMap, key string) ([]byte, uint64, bool, error) {
	gr, err := dm.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, wrap("get", err)
	}
	raw, err := gr.Byte()
	if err != nil {
		return nil, 0, false, fmt.Errorf("olric get %q: %w", key, err)
	}
	ver, payload, err := wire.DecodeValue(raw)
	if err != nil {
		return nil, 0, false, fmt.Errorf("olric get %q: %w", key, err)
	}
	return payload, ver, true, nil
}

func (s *Store) GetMany(ctx context.Context, mapName string, keys []string) (map[string]store.Versioned, error) {
	dm, err := s.dmap(mapName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Versioned, len(keys))
	for _, k := range keys {
		v, ver, ok, err := s.get(ctx, dm, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = store.Versioned{Value: v, Version: ver}
		}
	}
	return out, nil
}

// locked runs fn while holding the write lock of key.
func (s *Store) locked(ctx context.Context, locks olric.DMap, key string, fn func() error) error {
	lk, err := locks.LockWithTimeout(ctx, key, s.lockTTL, s.lockTTL)
	if err != nil {
		return wrap("lock", err)
	}
	ferr := fn()
	// ErrNoSuchLock: the lock expired while fn ran. Incr still kept the
	// versions ordered, so the write stands.
	if uerr := lk.Unlock(ctx); uerr != nil && ferr == nil && !errors.Is(uerr, olric.ErrNoSuchLock) {
		return wrap("unlock", uerr)
	}
	return ferr
}

func (s *Store) Put(ctx context.Context, mapName, key string, value []byte) (uint64, error) {
	data, versions, locks, err := s.maps(mapName)
	if err != nil {
		return 0, err
	}
	var ver uint64
	err = s.locked(ctx, locks, key, func() error {
		n, err := versions.Incr(ctx, key, 1)
		if err != nil {
			return wrap("put", err)
		}
		ver = uint64(n)
		return wrap("put", data.Put(ctx, key, wire.EncodeValue(ver, value)))
	})
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (s *Store) Delete(ctx context.Context, mapName, key string) (bool, uint64, error) {
	data, versions, locks, err := s.maps(mapName)
	if err != nil {
		return false, 0, err
	}
	var (
		deleted bool
		ver     uint64
	)
	err = s.locked(ctx, locks, key, func() error {
		n, err := data.Delete(ctx, key)
		if err != nil {
			return wrap("delete", err)
		}
		if n == 0 {
			return nil
		}
		v, err := versions.Incr(ctx, key, 1)
		if err != nil {
			return wrap("delete", err)
		}
		deleted, ver = true, uint64(v)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return deleted, ver, nil
}

// Size scans the map; it is O(n) on Olric.
func (s *Store) Size(ctx context.Context, mapName string) (int64, error) {
	dm, err := s.dmap(mapName)
	if err != nil {
		return 0, err
	}
	it, err := dm.Scan(ctx)
	if err != nil {
		return 0, wrap("size", err)
	}
	defer it.Close()
	var n int64
	for it.Next() {
		n++
	}
	return n, nil
}

func (s *Store) Publish(ctx context.Context, channel string, msg []byte) (int64, error) {
	n, err := s.ps.Publish(ctx, channel, msg)
	return n, wrap("publish", err)
}

func (s *Store) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	return redisstore.NewSubscription(ctx, s.ps.Subscribe(ctx, channel), s.health)
}
