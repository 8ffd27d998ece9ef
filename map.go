package coherent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/internal/resub"
	"github.com/unkn0wn-root/coherent/internal/util"
	"github.com/unkn0wn-root/coherent/internal/wire"
	"github.com/unkn0wn-root/coherent/store"
)

// Map is a named remote map fronted by a coherent local cache.
//
// Reads are served from the local cache and fall through to the store on a
// miss. Writes go to the store first, then to the local cache, then out on
// the map's coherence channel according to the SyncStrategy. Events from
// other clients are applied through the same strategy. A channel failure never
// fails a read or write; the map resubscribes in the background and applies
// the ReconnectionPolicy once it is back.
type Map[V any] struct {
	name    string
	channel string
	st      store.Coherent
	codec   c.Codec[V]
	cache   *LocalCache[V]
	policy  ReconnectionPolicy
	origin  [wire.OriginLen]byte
	log     Logger
	hooks   Hooks

	mgr       *resub.Manager
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewMap creates the local cache and subscribes to the coherence channel.
// It fails if the first subscription fails.
func NewMap[V any](ctx context.Context, opts Options[V]) (*Map[V], error) {
	if opts.Store == nil {
		return nil, ErrNilStore
	}
	lc, err := NewLocalCache(opts)
	if err != nil {
		return nil, err
	}

	m := &Map[V]{
		name:    opts.Name,
		channel: util.ChannelName(opts.Name),
		st:      opts.Store,
		codec:   opts.Codec,
		cache:   lc,
		policy:  coalesce[ReconnectionPolicy](opts.ReconnectionPolicy, ReconnectNone),
		origin:  [wire.OriginLen]byte(uuid.New()),
		log:     lc.log,
		hooks:   lc.hooks,
	}

	m.mgr, err = resub.Start(ctx, resub.Config{
		Channel:        m.channel,
		Subscribe:      m.st.Subscribe,
		Handle:         m.handle,
		OnDisconnect:   m.onDisconnect,
		OnRetryFailed:  m.onRetryFailed,
		OnReconnect:    m.onReconnect,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
	})
	if err != nil {
		_ = lc.Close(ctx)
		return nil, err
	}
	m.log.Debug("coherent map ready", Fields{
		"map": m.name, "sync": lc.strategy.String(), "reconnect": m.policy.String(),
	})
	return m, nil
}

func (m *Map[V]) Name() string { return m.name }

// Local exposes the local cache.
func (m *Map[V]) Local() *LocalCache[V] { return m.cache }

// State reports the coherence channel state.
func (m *Map[V]) State() ChannelState { return m.mgr.State() }

func (m *Map[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if m.closed.Load() {
		return zero, false, ErrClosed
	}
	if v, ok := m.cache.Get(ctx, key); ok {
		return v, true, nil
	}

	epoch := m.cache.epoch.Load()
	payload, ver, found, err := m.st.Get(ctx, m.name, key)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := m.codec.Decode(payload)
	if err != nil {
		return zero, false, err
	}
	m.cache.populate(ctx, key, payload, ver, epoch)
	return v, true, nil
}

// GetAll returns the values of keys that exist; missing keys are absent
// from the result.
func (m *Map[V]) GetAll(ctx context.Context, keys []string) (map[string]V, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	out := make(map[string]V, len(keys))
	var missing []string
	for _, k := range keys {
		if v, ok := m.cache.Get(ctx, k); ok {
			out[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	epoch := m.cache.epoch.Load()
	got, err := m.st.GetMany(ctx, m.name, missing)
	if err != nil {
		return nil, err
	}
	for k, it := range got {
		v, err := m.codec.Decode(it.Value)
		if err != nil {
			return nil, err
		}
		out[k] = v
		m.cache.populate(ctx, k, it.Value, it.Version, epoch)
	}
	return out, nil
}

// Put writes value to the store and the local cache, then broadcasts it.
// A broadcast failure is returned as a *WriteError; the value is stored.
func (m *Map[V]) Put(ctx context.Context, key string, value V) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := checkKey(key); err != nil {
		return err
	}
	payload, err := m.codec.Encode(value)
	if err != nil {
		return err
	}
	ver, err := m.st.Put(ctx, m.name, key, payload)
	if err != nil {
		return err
	}
	m.cache.applyLocalWrite(ctx, key, payload, ver)

	if err := m.broadcast(ctx, m.outbound(key, ver, payload)); err != nil {
		return &WriteError{Key: key, PublishErr: err}
	}
	return nil
}

// PutAll writes items one by one and broadcasts them as one batch. On a store
// failure it stops; the keys written so far are still broadcast.
func (m *Map[V]) PutAll(ctx context.Context, items map[string]V) error {
	if m.closed.Load() {
		return ErrClosed
	}
	for k := range items {
		if err := checkKey(k); err != nil {
			return err
		}
	}
	events := make([]wire.Event, 0, len(items))
	var (
		failedKey string
		storeErr  error
	)
	for k, v := range items {
		payload, err := m.codec.Encode(v)
		if err != nil {
			failedKey, storeErr = k, err
			break
		}
		ver, err := m.st.Put(ctx, m.name, k, payload)
		if err != nil {
			failedKey, storeErr = k, err
			break
		}
		m.cache.applyLocalWrite(ctx, k, payload, ver)
		events = append(events, m.outbound(k, ver, payload)...)
	}

	pubErr := m.broadcast(ctx, events)
	if storeErr == nil && pubErr == nil {
		return nil
	}
	return &WriteError{Key: failedKey, StoreErr: storeErr, PublishErr: pubErr}
}

// Delete removes key from the store and the local cache.
func (m *Map[V]) Delete(ctx context.Context, key string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	if err := checkKey(key); err != nil {
		return false, err
	}
	deleted, ver, err := m.st.Delete(ctx, m.name, key)
	if err != nil {
		return false, err
	}
	if !deleted {
		m.cache.Evict(ctx, key)
		return false, nil
	}
	m.cache.applyLocalDelete(ctx, key, ver)

	if m.cache.strategy != SyncNone {
		ev := wire.Event{Op: wire.OpInvalidate, Key: key, Version: ver}
		if err := m.broadcast(ctx, []wire.Event{ev}); err != nil {
			return true, &WriteError{Key: key, PublishErr: err}
		}
	}
	return true, nil
}

func checkKey(key string) error {
	if len(key) == 0 || len(key) > wire.MaxKeyLen {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	return nil
}

// Size is the number of entries in the remote map.
func (m *Map[V]) Size(ctx context.Context) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	return m.st.Size(ctx, m.name)
}

// CachedSize is the number of locally cached entries (-1 if unknown).
func (m *Map[V]) CachedSize() int { return m.cache.Len() }

// CachedKeys lists locally cached keys when the provider supports it.
func (m *Map[V]) CachedKeys() []string { return m.cache.Keys() }

// Close stops the channel subscription and releases the local cache.
func (m *Map[V]) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		err := m.mgr.Close()
		if cerr := m.cache.Close(ctx); err == nil {
			err = cerr
		}
		m.closeErr = err
		m.log.Debug("coherent map closed", Fields{"map": m.name})
	})
	return m.closeErr
}

func (m *Map[V]) outbound(key string, ver uint64, payload []byte) []wire.Event {
	switch m.cache.strategy {
	case SyncUpdate:
		return []wire.Event{{Op: wire.OpUpdate, Key: key, Version: ver, Payload: payload}}
	case SyncInvalidate:
		return []wire.Event{{Op: wire.OpInvalidate, Key: key, Version: ver}}
	default:
		return nil
	}
}

func (m *Map[V]) broadcast(ctx context.Context, events []wire.Event) error {
	if len(events) == 0 {
		return nil
	}
	msg, err := wire.EncodeEvents(m.origin, events)
	if err != nil {
		return err
	}
	if _, err := m.st.Publish(ctx, m.channel, msg); err != nil {
		m.log.Warn("coherence publish failed", Fields{"map": m.name, "events": len(events), "err": err})
		return err
	}
	return nil
}

// handle runs on the subscription goroutine.
func (m *Map[V]) handle(msg []byte) {
	origin, events, err := wire.DecodeEvents(msg)
	if err != nil {
		m.hooks.EventDecodeError(m.name, err)
		m.log.Warn("dropping undecodable coherence message", Fields{"map": m.name, "err": err})
		return
	}
	if origin == m.origin {
		return // already applied locally
	}
	ctx := context.Background()
	for _, ev := range events {
		kind := EventInvalidate
		if ev.Op == wire.OpUpdate {
			kind = EventUpdate
		}
		m.cache.applyEvent(ctx, ev.Key, kind, ev.Version, ev.Payload)
	}
}

func (m *Map[V]) onDisconnect(err error) {
	m.hooks.ChannelDisconnected(m.channel, err)
	if errors.Is(err, store.ErrSlowSubscriber) {
		m.log.Warn("coherence channel dropped, consumer too slow", Fields{"map": m.name})
		return
	}
	m.log.Warn("coherence channel lost", Fields{"map": m.name, "err": err})
}

func (m *Map[V]) onRetryFailed(attempt int, err error) {
	m.log.Debug("coherence resubscribe failed", Fields{"map": m.name, "attempt": attempt, "err": err})
}

func (m *Map[V]) onReconnect(attempt int) {
	m.hooks.ChannelResubscribed(m.channel, attempt)
	m.log.Info("coherence channel resubscribed", Fields{
		"map": m.name, "attempt": attempt, "policy": m.policy.String(),
	})
	if m.policy == ReconnectClean {
		if err := m.cache.Clear(context.Background()); err != nil {
			m.log.Error("local cache flush failed", Fields{"map": m.name, "err": err})
		}
	}
}
