package main

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/provider"
	"github.com/unkn0wn-root/coherent/provider/bigcache"
	"github.com/unkn0wn-root/coherent/provider/lru"
	"github.com/unkn0wn-root/coherent/provider/ristretto"
)

// maxValueBytes caps what watch will decode from the store.
const maxValueBytes = 1 << 20

func valueCodec(name string) (codec.Codec[string], error) {
	var inner codec.Codec[string]
	switch name {
	case "json":
		inner = codec.JSON[string]{}
	case "cbor":
		c, err := codec.NewCBOR[string](true)
		if err != nil {
			return nil, err
		}
		inner = c
	case "msgpack":
		inner = codec.Msgpack[string]{}
	case "raw":
		inner = codec.String{}
	default:
		return nil, fmt.Errorf("unknown codec %q (json, cbor, msgpack, raw)", name)
	}
	return codec.LimitCodec[string]{Inner: inner, Max: maxValueBytes}, nil
}

// localProvider builds the local cache backend.
func localProvider(name string, size int) (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)
	switch name {
	case "lru":
		p, err = lru.New(lru.Config{Size: size})
	case "ristretto":
		p, err = ristretto.New(ristretto.Config{
			NumCounters: int64(size) * 10,
			MaxCost:     int64(size),
			BufferItems: 64,
		})
	case "bigcache":
		p, err = bigcache.New(bigcache.Config{LifeWindow: 10 * time.Minute})
	default:
		return nil, fmt.Errorf("unknown provider %q (lru, ristretto, bigcache)", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", name, err)
	}
	return p, nil
}
