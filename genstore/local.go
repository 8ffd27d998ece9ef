package genstore

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/coherent/internal/util"
)

const floorShards = 32 // power of two

type floor struct {
	ver  uint64
	seen int64 // unix nanos of the last Observe
}

// floorShard orders its floors by last Observe, so the oldest one is both
// the capacity victim and the first to age out.
type floorShard struct {
	mu  sync.RWMutex
	lru *simplelru.LRU[string, floor]
}

// LocalGenStore keeps floors in process, sharded by key hash so that events
// for different keys do not contend. Floors are bounded two ways: by age
// (retention, swept every cleanup interval) and by count (capacity, least
// recently observed first). A dropped floor only matters for an event older
// than the entry it would have guarded.
type LocalGenStore struct {
	shards   [floorShards]floorShard
	perShard int
	now      func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore builds a floor store. capacity <= 0 means no count bound;
// otherwise it is spread evenly over the shards, rounded up.
func NewLocalGenStore(cleanupInterval, retention time.Duration, capacity int) *LocalGenStore {
	per := math.MaxInt
	if capacity > 0 {
		per = (capacity + floorShards - 1) / floorShards
	}
	s := &LocalGenStore{perShard: per, now: time.Now}
	for i := range s.shards {
		s.shards[i].lru = newShardLRU(per)
	}
	if cleanupInterval > 0 && retention > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.sweep(cleanupInterval, retention)
	}
	return s
}

func newShardLRU(size int) *simplelru.LRU[string, floor] {
	l, err := simplelru.NewLRU[string, floor](size, nil)
	if err != nil {
		panic(err) // size is always positive
	}
	return l
}

func (s *LocalGenStore) sweep(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stop:
			return
		}
	}
}

func (s *LocalGenStore) shard(key string) *floorShard {
	return &s.shards[util.Stripe(key, floorShards)]
}

func (s *LocalGenStore) Snapshot(_ context.Context, key string) (uint64, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	f, _ := sh.lru.Peek(key)
	sh.mu.RUnlock()
	return f.ver, nil
}

func (s *LocalGenStore) Observe(_ context.Context, key string, ver uint64) (uint64, error) {
	now := s.now().UnixNano()
	sh := s.shard(key)
	sh.mu.Lock()
	f, _ := sh.lru.Peek(key)
	if ver > f.ver {
		f.ver = ver
	}
	f.seen = now
	sh.lru.Add(key, f)
	sh.mu.Unlock()
	return f.ver, nil
}

func (s *LocalGenStore) Reset(context.Context) error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.lru.Purge()
		sh.mu.Unlock()
	}
	return nil
}

// Len reports how many floors are held.
func (s *LocalGenStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += sh.lru.Len()
		sh.mu.RUnlock()
	}
	return n
}

// Cap is the most floors the store holds at once (math.MaxInt if unbounded).
func (s *LocalGenStore) Cap() int {
	if s.perShard > math.MaxInt/floorShards {
		return math.MaxInt
	}
	return s.perShard * floorShards
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention).UnixNano()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for {
			_, f, ok := sh.lru.GetOldest()
			if !ok || f.seen >= cutoff {
				break
			}
			sh.lru.RemoveOldest()
		}
		sh.mu.Unlock()
	}
}

// Close stops the background sweep. Floors stay readable.
func (s *LocalGenStore) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}
