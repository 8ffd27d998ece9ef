package util

import (
	"github.com/cespare/xxhash/v2"
)

// ChannelName is the coherence channel of a named map.
func ChannelName(mapName string) string {
	return "{" + mapName + "}:coherence"
}

// VersionKey holds the per-key version counters of a named map. The hash tag
// keeps it in the same cluster slot as the map itself.
func VersionKey(mapName string) string {
	return "{" + mapName + "}:versions"
}

// LockKey names the per-key write locks of a named map. Lock records must not
// share a key space with the version counters they guard.
func LockKey(mapName string) string {
	return "{" + mapName + "}:locks"
}

// DataKey holds the entries of a named map.
func DataKey(mapName string) string {
	return "{" + mapName + "}"
}

// Stripe maps key to one of n lock stripes. n must be a power of two.
func Stripe(key string, n int) int {
	return int(xxhash.Sum64String(key) & uint64(n-1))
}
