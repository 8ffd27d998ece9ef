package collections

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/coherent"
	c "github.com/unkn0wn-root/coherent/codec"
	"github.com/unkn0wn-root/coherent/internal/resub"
	"github.com/unkn0wn-root/coherent/store"
)

type TopicOptions struct {
	Logger         coherent.Logger // nil => NopLogger
	InitialBackoff time.Duration   // resubscribe backoff; 0 => 100ms
	MaxBackoff     time.Duration   // 0 => 10s
}

// Topic is a named pub/sub channel.
type Topic[V any] struct {
	name  string
	st    store.PubSub
	codec c.Codec[V]
	opts  TopicOptions
	log   coherent.Logger
}

func NewTopic[V any](st store.PubSub, name string, codec c.Codec[V], opts TopicOptions) *Topic[V] {
	t := &Topic[V]{name: name, st: st, codec: codec, opts: opts, log: opts.Logger}
	if t.log == nil {
		t.log = coherent.NopLogger{}
	}
	return t
}

func (t *Topic[V]) Name() string { return t.name }

func (t *Topic[V]) Descriptor() store.NamedCollection {
	return store.NamedCollection{Name: t.name, Kind: store.KindTopic}
}

// Publish returns how many subscriptions received v.
func (t *Topic[V]) Publish(ctx context.Context, v V) (int64, error) {
	b, err := t.codec.Encode(v)
	if err != nil {
		return 0, err
	}
	return t.st.Publish(ctx, t.name, b)
}

// Subscribe starts a subscription that receives every message published from
// now on. It survives channel failures by resubscribing; messages published
// while it is down are lost.
func (t *Topic[V]) Subscribe(ctx context.Context) (*Subscription[V], error) {
	s := &Subscription[V]{
		out:  make(chan V),
		done: make(chan struct{}),
	}
	mgr, err := resub.Start(ctx, resub.Config{
		Channel:   t.name,
		Subscribe: t.st.Subscribe,
		Handle: func(b []byte) {
			v, err := t.codec.Decode(b)
			if err != nil {
				t.log.Warn("dropping undecodable topic message", coherent.Fields{"topic": t.name, "err": err})
				return
			}
			select {
			case s.out <- v:
			case <-s.done:
			}
		},
		OnDisconnect: func(err error) {
			t.log.Warn("topic subscription lost", coherent.Fields{"topic": t.name, "err": err})
		},
		OnReconnect: func(attempt int) {
			t.log.Info("topic resubscribed", coherent.Fields{"topic": t.name, "attempt": attempt})
		},
		InitialBackoff: t.opts.InitialBackoff,
		MaxBackoff:     t.opts.MaxBackoff,
	})
	if err != nil {
		return nil, err
	}
	s.mgr = mgr
	return s, nil
}

// Subscription is a live topic subscription.
type Subscription[V any] struct {
	mgr  *resub.Manager
	out  chan V
	done chan struct{}
	once sync.Once
}

// C delivers messages in publish order. It is closed by Close.
func (s *Subscription[V]) C() <-chan V { return s.out }

// State is the state of the channel behind this subscription.
func (s *Subscription[V]) State() coherent.ChannelState { return s.mgr.State() }

// Close stops delivery to this subscription only.
func (s *Subscription[V]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.mgr.Close()
		close(s.out)
	})
	return err
}
