package redis

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/coherent/store"
)

// Subscription adapts a *redis.PubSub to store.Subscription. Any receive
// failure other than an idle timeout ends it with a *store.TransportError;
// go-redis' own silent resubscribe is not relied on, so callers always learn
// about a gap.
type Subscription struct {
	ps     *redis.PubSub
	msgs   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

var _ store.Subscription = (*Subscription)(nil)

// NewSubscription waits for the server to confirm ps, then starts delivery.
// health is the idle period after which the connection is pinged. ps is
// closed on failure.
func NewSubscription(ctx context.Context, ps *redis.PubSub, health time.Duration) (*Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrap("subscribe", err)
	}
	if health <= 0 {
		health = defaultHealthInterval
	}
	rctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		ps:     ps,
		msgs:   make(chan []byte),
		ctx:    rctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(health)
	return s, nil
}

func (s *Subscription) Messages() <-chan []byte { return s.msgs }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	<-s.done
	return err
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = store.Transport("subscribe", err)
	s.mu.Unlock()
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
	})
}

func (s *Subscription) run(health time.Duration) {
	defer close(s.done)
	defer close(s.msgs)

	for {
		msg, err := s.ps.ReceiveTimeout(s.ctx, health)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if isTimeout(err) {
				if perr := s.ps.Ping(s.ctx); perr != nil {
					s.fail(perr)
					return
				}
				continue
			}
			s.fail(err)
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue // *redis.Pong, *redis.Subscription
		}
		select {
		case s.msgs <- []byte(m.Payload):
		case <-s.ctx.Done():
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
