package coherent

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The map calls them on hot paths and from its channel goroutine.
type Hooks interface {
	// An inbound event was not newer than what the cache knows.
	StaleEventDiscarded(name, key string, eventVersion, currentVersion uint64)

	// An inbound event changed the cache. action ∈ {"replace", "remove"}
	EventApplied(name, key, action string)

	// A coherence message could not be decoded and was dropped.
	EventDecodeError(name string, err error)

	// The coherence channel failed; the map keeps serving from cache/store.
	ChannelDisconnected(channel string, err error)

	// The coherence channel is live again after attempt tries.
	ChannelResubscribed(channel string, attempt int)

	// The local cache was flushed. entries is -1 when unknown.
	CacheFlushed(name string, entries int)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(key string)

	// A read-through result was older than what the cache already knew.
	ReadThroughSkipped(name, key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StaleEventDiscarded(string, string, uint64, uint64) {}
func (NopHooks) EventApplied(string, string, string)                {}
func (NopHooks) EventDecodeError(string, error)                     {}
func (NopHooks) ChannelDisconnected(string, error)                  {}
func (NopHooks) ChannelResubscribed(string, int)                    {}
func (NopHooks) CacheFlushed(string, int)                           {}
func (NopHooks) ProviderSetRejected(string)                         {}
func (NopHooks) ReadThroughSkipped(string, string)                  {}
