package store

import "fmt"

// Kind is the shape of a named remote collection.
type Kind int

const (
	KindMap Kind = iota
	KindList
	KindQueue
	KindDeque
	KindSortedSet
	KindTopic
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindQueue:
		return "queue"
	case KindDeque:
		return "deque"
	case KindSortedSet:
		return "sorted_set"
	case KindTopic:
		return "topic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NamedCollection identifies a remote collection.
type NamedCollection struct {
	Name string
	Kind Kind
}

func (c NamedCollection) String() string { return c.Kind.String() + ":" + c.Name }

// NormalizeRange converts Redis-style inclusive, possibly negative, indexes
// into a half-open [lo, hi) window over n elements. ok=false means empty.
func NormalizeRange(start, stop, n int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
