// Package genstore keeps the version floors of a local cache: the newest
// version observed per key, kept after the entry itself has left the cache
// (evicted, invalidated or deleted). A late event at or below the floor is
// stale and must not bring a superseded value back.
package genstore

import (
	"context"
	"time"
)

// GenStore is a per-key monotonic version floor.
type GenStore interface {
	// Snapshot returns the floor of key; unknown keys are 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Observe raises the floor to ver if it is higher and returns the floor.
	Observe(ctx context.Context, key string, ver uint64) (uint64, error)
	// Reset drops every floor.
	Reset(ctx context.Context) error
	// Cleanup drops floors not raised or observed within retention.
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
