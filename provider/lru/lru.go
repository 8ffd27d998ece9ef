package lru

import (
	"context"
	"errors"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/unkn0wn-root/coherent/provider"
)

// Provider bounds the local cache by entry count and evicts the least
// recently used entry first. This is the default provider of a coherent map.
type Provider struct {
	c *hlru.Cache[string, []byte]
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Size int // max entries; required

	// OnEvict is called synchronously for every entry leaving the cache.
	OnEvict func(key string)
}

func New(cfg Config) (*Provider, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("lru: size must be positive")
	}
	var (
		c   *hlru.Cache[string, []byte]
		err error
	)
	if cfg.OnEvict != nil {
		onEvict := cfg.OnEvict
		c, err = hlru.NewWithEvict[string, []byte](cfg.Size, func(k string, _ []byte) { onEvict(k) })
	} else {
		c, err = hlru.New[string, []byte](cfg.Size)
	}
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set ignores cost and ttl; entries live until evicted or removed.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.c.Add(key, value)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

func (p *Provider) Clear(_ context.Context) error {
	p.c.Purge()
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}

// Len reports the number of resident entries.
func (p *Provider) Len() int { return p.c.Len() }

// Keys returns resident keys from oldest to newest.
func (p *Provider) Keys() []string { return p.c.Keys() }
