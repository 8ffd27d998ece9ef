// Package memory is an in-process store.Store with the same observable
// semantics as the Redis implementation: versioned maps, competing-consumer
// lists, Redis-ordered sorted sets and fan-out pub/sub. It can simulate
// outages, which makes it the backbone of the coherence tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/coherent/store"
)

// ErrUnavailable is returned (wrapped in a *store.TransportError) while the
// store is marked unavailable.
var ErrUnavailable = errors.New("memory store: unavailable")

const defaultSubscriberBuffer = 4096

type mapState struct {
	data     map[string]store.Versioned
	versions map[string]uint64
}

type listState struct {
	items [][]byte
	wake  chan struct{} // closed and replaced on every push
}

type Store struct {
	mu sync.Mutex

	maps  map[string]*mapState
	lists map[string]*listState
	zsets map[string]map[string]float64
	subs  map[string]map[*subscription]struct{}

	subBuffer int
	down      bool
	closed    bool
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithSubscriberBuffer bounds how many undelivered messages a subscription may
// hold before it is dropped with store.ErrSlowSubscriber.
func WithSubscriberBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.subBuffer = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		maps:      make(map[string]*mapState),
		lists:     make(map[string]*listState),
		zsets:     make(map[string]map[string]float64),
		subs:      make(map[string]map[*subscription]struct{}),
		subBuffer: defaultSubscriberBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) checkLocked(op string) error {
	if s.closed {
		return store.Transport(op, store.ErrClosed)
	}
	if s.down {
		return store.Transport(op, ErrUnavailable)
	}
	return nil
}

// SetAvailable toggles a simulated outage. While unavailable every operation
// fails with a transport error and every live subscription is terminated.
func (s *Store) SetAvailable(up bool) {
	s.mu.Lock()
	s.down = !up
	if !up {
		s.wakeAllLocked()
	}
	s.mu.Unlock()
	if !up {
		s.DropSubscriptions()
	}
}

// DropSubscriptions terminates every live subscription with a transport
// error, as a server-side session loss would.
func (s *Store) DropSubscriptions() {
	s.mu.Lock()
	var all []*subscription
	for ch, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
		delete(s.subs, ch)
	}
	s.mu.Unlock()
	for _, sub := range all {
		sub.end(store.Transport("subscribe", ErrUnavailable))
	}
}

// Subscribers returns the number of live subscriptions on channel.
func (s *Store) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[channel])
}

// wakeAllLocked releases every blocked pop so it can observe a state change.
func (s *Store) wakeAllLocked() {
	for _, l := range s.lists {
		close(l.wake)
		l.wake = make(chan struct{})
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

// ---- maps ----

func (s *Store) mapLocked(name string) *mapState {
	m := s.maps[name]
	if m == nil {
		m = &mapState{data: make(map[string]store.Versioned), versions: make(map[string]uint64)}
		s.maps[name] = m
	}
	return m
}

func (s *Store) Get(_ context.Context, mapName, key string) ([]byte, uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("get"); err != nil {
		return nil, 0, false, err
	}
	m := s.maps[mapName]
	if m == nil {
		return nil, 0, false, nil
	}
	v, ok := m.data[key]
	if !ok {
		return nil, 0, false, nil
	}
	return clone(v.Value), v.Version, true, nil
}

func (s *Store) GetMany(_ context.Context, mapName string, keys []string) (map[string]store.Versioned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("get_many"); err != nil {
		return nil, err
	}
	out := make(map[string]store.Versioned, len(keys))
	m := s.maps[mapName]
	if m == nil {
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = store.Versioned{Value: clone(v.Value), Version: v.Version}
		}
	}
	return out, nil
}

func (s *Store) Put(_ context.Context, mapName, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("put"); err != nil {
		return 0, err
	}
	m := s.mapLocked(mapName)
	m.versions[key]++
	ver := m.versions[key]
	m.data[key] = store.Versioned{Value: clone(value), Version: ver}
	return ver, nil
}

func (s *Store) Delete(_ context.Context, mapName, key string) (bool, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("delete"); err != nil {
		return false, 0, err
	}
	m := s.maps[mapName]
	if m == nil {
		return false, 0, nil
	}
	if _, ok := m.data[key]; !ok {
		return false, 0, nil
	}
	delete(m.data, key)
	m.versions[key]++
	return true, m.versions[key], nil
}

func (s *Store) Size(_ context.Context, mapName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("size"); err != nil {
		return 0, err
	}
	if m := s.maps[mapName]; m != nil {
		return int64(len(m.data)), nil
	}
	return 0, nil
}

// ---- lists ----

func (s *Store) listLocked(name string) *listState {
	l := s.lists[name]
	if l == nil {
		l = &listState{wake: make(chan struct{})}
		s.lists[name] = l
	}
	return l
}

func (s *Store) Push(_ context.Context, list string, side store.Side, values ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("push"); err != nil {
		return 0, err
	}
	l := s.listLocked(list)
	for _, v := range values {
		if side == store.Front {
			l.items = append([][]byte{clone(v)}, l.items...)
		} else {
			l.items = append(l.items, clone(v))
		}
	}
	if len(values) > 0 {
		close(l.wake)
		l.wake = make(chan struct{})
	}
	return int64(len(l.items)), nil
}

func (s *Store) popLocked(list string, side store.Side) ([]byte, bool) {
	l := s.lists[list]
	if l == nil || len(l.items) == 0 {
		return nil, false
	}
	var v []byte
	if side == store.Front {
		v = l.items[0]
		l.items[0] = nil
		l.items = l.items[1:]
	} else {
		last := len(l.items) - 1
		v = l.items[last]
		l.items[last] = nil
		l.items = l.items[:last]
	}
	return v, true
}

func (s *Store) Pop(_ context.Context, list string, side store.Side) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("pop"); err != nil {
		return nil, false, err
	}
	v, ok := s.popLocked(list, side)
	return v, ok, nil
}

// BlockingPop takes the element under the store lock, so a caller whose ctx
// is cancelled while waiting never consumes anything.
func (s *Store) BlockingPop(ctx context.Context, list string, side store.Side, timeout time.Duration) ([]byte, bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		s.mu.Lock()
		if err := s.checkLocked("blocking_pop"); err != nil {
			s.mu.Unlock()
			return nil, false, err
		}
		if v, ok := s.popLocked(list, side); ok {
			s.mu.Unlock()
			return v, true, nil
		}
		wake := s.listLocked(list).wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (s *Store) Len(_ context.Context, list string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("len"); err != nil {
		return 0, err
	}
	if l := s.lists[list]; l != nil {
		return int64(len(l.items)), nil
	}
	return 0, nil
}

func (s *Store) Range(_ context.Context, list string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("range"); err != nil {
		return nil, err
	}
	l := s.lists[list]
	if l == nil {
		return nil, nil
	}
	lo, hi, ok := store.NormalizeRange(start, stop, int64(len(l.items)))
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, v := range l.items[lo:hi] {
		out = append(out, clone(v))
	}
	return out, nil
}

// ---- sorted sets ----

func (s *Store) zsetLocked(name string) map[string]float64 {
	z := s.zsets[name]
	if z == nil {
		z = make(map[string]float64)
		s.zsets[name] = z
	}
	return z
}

func (s *Store) Add(_ context.Context, set string, member []byte, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zadd"); err != nil {
		return false, err
	}
	z := s.zsetLocked(set)
	_, existed := z[string(member)]
	z[string(member)] = score
	return !existed, nil
}

func (s *Store) IncrBy(_ context.Context, set string, member []byte, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zincrby"); err != nil {
		return 0, err
	}
	z := s.zsetLocked(set)
	z[string(member)] += delta
	return z[string(member)], nil
}

// sortedLocked orders by score, then by member bytes.
func (s *Store) sortedLocked(set string) []store.ScoredEntry {
	z := s.zsets[set]
	out := make([]store.ScoredEntry, 0, len(z))
	for m, sc := range z {
		out = append(out, store.ScoredEntry{Member: []byte(m), Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return bytes.Compare(out[i].Member, out[j].Member) < 0
	})
	return out
}

func (s *Store) RangeByRank(_ context.Context, set string, start, stop int64) ([]store.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zrange"); err != nil {
		return nil, err
	}
	all := s.sortedLocked(set)
	lo, hi, ok := store.NormalizeRange(start, stop, int64(len(all)))
	if !ok {
		return nil, nil
	}
	return all[lo:hi], nil
}

func (s *Store) Score(_ context.Context, set string, member []byte) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zscore"); err != nil {
		return 0, false, err
	}
	sc, ok := s.zsets[set][string(member)]
	return sc, ok, nil
}

func (s *Store) Rank(_ context.Context, set string, member []byte) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zrank"); err != nil {
		return 0, false, err
	}
	for i, e := range s.sortedLocked(set) {
		if bytes.Equal(e.Member, member) {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (s *Store) Remove(_ context.Context, set string, member []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zrem"); err != nil {
		return false, err
	}
	z := s.zsets[set]
	if _, ok := z[string(member)]; !ok {
		return false, nil
	}
	delete(z, string(member))
	return true, nil
}

func (s *Store) Card(_ context.Context, set string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("zcard"); err != nil {
		return 0, err
	}
	return int64(len(s.zsets[set])), nil
}

// ---- lifecycle ----

// Close fails every later call and ends all subscriptions.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.wakeAllLocked()
	var all []*subscription
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.subs = make(map[string]map[*subscription]struct{})
	s.mu.Unlock()

	for _, sub := range all {
		sub.end(store.Transport("subscribe", store.ErrClosed))
	}
	return nil
}
