package ristretto

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/coherent/provider"
)

// Provider is a cost-bounded TinyLFU cache. Writes are buffered and admission
// is decided later, so a Get right after Set may miss (the coherent map then
// reads through). Call Wait when a test needs the write to be visible.
//
// Ristretto keys entries by hash only, so the provider keeps the key next to
// the frame and tracks resident keys through the eviction and rejection
// callbacks. Len and Keys are exact once Wait has returned.
type Provider struct {
	c *rc.Cache

	mu   sync.Mutex
	keys map[string]*entry // resident (or pending admission) entry per key
}

type entry struct {
	key   string
	frame []byte
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in units of the map's SetCost; entry count by default
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: NumCounters, MaxCost and BufferItems must be positive")
	}
	p := &Provider{keys: make(map[string]*entry)}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		OnEvict:     p.forget,
		OnReject:    p.forget,

		// MaxCost counts SetCost units only.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) forget(it *rc.Item) {
	e, ok := it.Value.(*entry)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.keys[e.key] == e {
		delete(p.keys, e.key)
	}
	p.mu.Unlock()
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	e, ok := v.(*entry)
	if !ok || e.key != key {
		// hash collision or foreign value
		p.c.Del(key)
		return nil, false, nil
	}
	return e.frame, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	e := &entry{key: key, frame: value}
	// Tracked before the write: admission may be decided before Set returns.
	p.mu.Lock()
	p.keys[key] = e
	p.mu.Unlock()

	var ok bool
	if ttl <= 0 {
		ok = p.c.Set(key, e, cost)
	} else {
		ok = p.c.SetWithTTL(key, e, cost, ttl)
	}
	if !ok {
		p.forget(&rc.Item{Value: e})
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.mu.Lock()
	delete(p.keys, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Clear(_ context.Context) error {
	p.c.Clear()
	p.mu.Lock()
	p.keys = make(map[string]*entry)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Keys returns tracked keys in lexical order.
func (p *Provider) Keys() []string {
	p.mu.Lock()
	keys := make([]string, 0, len(p.keys))
	for k := range p.keys {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
