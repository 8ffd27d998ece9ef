// Package collections offers typed, uncached views over the remote store:
// lists, queues and deques (Collection), pub/sub topics (Topic), sorted sets
// (SortedSet) and plain maps (RMap). Every call goes to the store; nothing is
// cached locally.
//
// Delivery semantics differ by kind. Blocking pops on one collection compete:
// each element reaches exactly one consumer. Topic subscriptions fan out:
// each live subscription receives every message published after it started.
package collections
