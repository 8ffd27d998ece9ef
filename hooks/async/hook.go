// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/coherent"
//	"github.com/unkn0wn-root/coherent/codec"
//	"github.com/unkn0wn-root/coherent/hooks/async"
//	"github.com/unkn0wn-root/coherent/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    StaleEvery: 100, // sample logs: ~every 100th stale event
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	m, _ := coherent.NewMap[User](ctx, coherent.Options[User]{
//	    Name:  "users",
//	    Store: st,
//	    Codec: codec.JSON[User]{},
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/coherent"
)

type Hooks struct {
	inner   coherent.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ coherent.Hooks = (*Hooks)(nil)

func New(inner coherent.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued calls. Calls made after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts calls lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		if recover() != nil { // send on closed queue
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) StaleEventDiscarded(n, k string, ev, cur uint64) {
	h.try(func() { h.inner.StaleEventDiscarded(n, k, ev, cur) })
}
func (h *Hooks) EventApplied(n, k, a string)        { h.try(func() { h.inner.EventApplied(n, k, a) }) }
func (h *Hooks) EventDecodeError(n string, e error) { h.try(func() { h.inner.EventDecodeError(n, e) }) }
func (h *Hooks) ChannelDisconnected(ch string, err error) {
	h.try(func() { h.inner.ChannelDisconnected(ch, err) })
}
func (h *Hooks) ChannelResubscribed(ch string, attempt int) {
	h.try(func() { h.inner.ChannelResubscribed(ch, attempt) })
}
func (h *Hooks) CacheFlushed(n string, entries int) { h.try(func() { h.inner.CacheFlushed(n, entries) }) }
func (h *Hooks) ProviderSetRejected(k string)       { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) ReadThroughSkipped(n, k string)     { h.try(func() { h.inner.ReadThroughSkipped(n, k) }) }
