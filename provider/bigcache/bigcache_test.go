package bigcache

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"
)

func TestBigcacheRoundTripAndClear(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{LifeWindow: time.Minute, HardMaxCacheSizeMB: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	if _, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := p.Get(ctx, "k"); err != nil || !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get: ok=%v err=%v v=%q", ok, err, v)
	}
	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("Del missing should be nil, got %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Clear")
	}
}

func TestBigcacheKeys(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	for _, k := range []string{"x", "y"} {
		if ok, err := p.Set(ctx, k, []byte(k), 1, 0); err != nil || !ok {
			t.Fatalf("Set %s: ok=%v err=%v", k, ok, err)
		}
	}
	if p.Len() != 2 {
		t.Fatalf("Len = %d", p.Len())
	}
	keys := p.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Fatalf("Keys = %v", keys)
	}
}
