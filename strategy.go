package coherent

import (
	"fmt"

	"github.com/unkn0wn-root/coherent/internal/resub"
)

// SyncStrategy decides what inbound coherence events do to the local cache
// and what a local write broadcasts.
type SyncStrategy uint8

const (
	// SyncUpdate replaces entries in place with the value carried by the event.
	SyncUpdate SyncStrategy = iota + 1
	// SyncInvalidate removes entries; the next read goes to the store.
	SyncInvalidate
	// SyncNone never touches the cache on inbound events and broadcasts nothing.
	SyncNone
)

func (s SyncStrategy) String() string {
	switch s {
	case SyncUpdate:
		return "update"
	case SyncInvalidate:
		return "invalidate"
	case SyncNone:
		return "none"
	default:
		return fmt.Sprintf("sync(%d)", uint8(s))
	}
}

// ParseSyncStrategy accepts "update", "invalidate" and "none".
func ParseSyncStrategy(s string) (SyncStrategy, error) {
	switch s {
	case "update":
		return SyncUpdate, nil
	case "invalidate":
		return SyncInvalidate, nil
	case "none":
		return SyncNone, nil
	}
	return 0, fmt.Errorf("coherent: unknown sync strategy %q", s)
}

// ReconnectionPolicy decides what happens to the local cache after the
// coherence channel was lost and resubscribed.
type ReconnectionPolicy uint8

const (
	// ReconnectNone keeps every entry; some may be stale until overwritten.
	ReconnectNone ReconnectionPolicy = iota + 1
	// ReconnectClean flushes the whole local cache.
	ReconnectClean
)

func (p ReconnectionPolicy) String() string {
	switch p {
	case ReconnectNone:
		return "none"
	case ReconnectClean:
		return "clean"
	default:
		return fmt.Sprintf("reconnect(%d)", uint8(p))
	}
}

// ParseReconnectionPolicy accepts "none" and "clean".
func ParseReconnectionPolicy(s string) (ReconnectionPolicy, error) {
	switch s {
	case "none":
		return ReconnectNone, nil
	case "clean":
		return ReconnectClean, nil
	}
	return 0, fmt.Errorf("coherent: unknown reconnection policy %q", s)
}

// EventKind is the kind of a coherence event.
type EventKind uint8

const (
	EventUpdate EventKind = iota + 1
	EventInvalidate
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is a coherence event. Value is only meaningful for EventUpdate.
type Event[V any] struct {
	Key     string
	Kind    EventKind
	Value   V
	Version uint64
}

// Action is the outcome of Decide.
type Action uint8

const (
	ActionIgnore Action = iota
	ActionReplace
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionReplace:
		return "replace"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Decide maps an inbound event to a cache action. current is the newest
// version the cache knows for the key (0 if none). An event that is not
// strictly newer is always ignored, which makes applying events idempotent
// and safe under duplicate or reordered delivery.
func Decide(s SyncStrategy, kind EventKind, eventVersion, current uint64) Action {
	if s == SyncNone || eventVersion <= current {
		return ActionIgnore
	}
	if s == SyncUpdate && kind == EventUpdate {
		return ActionReplace
	}
	return ActionRemove
}

// ChannelState is the state of a coherent map's channel subscription.
type ChannelState = resub.State

const (
	ChannelConnected     = resub.Connected
	ChannelDisconnected  = resub.Disconnected
	ChannelResubscribing = resub.Resubscribing
)
