// Package provider defines the in-process byte store backing a coherent map's
// local cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The coherent map stores
// versioned frames and relies on reading back the frame it wrote.
//
// A provider is free to drop any entry at any time (capacity eviction, TTL,
// admission refusal). A dropped entry only turns the next read into a miss,
// which falls through to the remote store.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal bounded byte store. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. May ignore cost or ttl if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
