package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/coherent/store"
)

type subscription struct {
	st      *Store
	channel string

	mu   sync.Mutex
	ch   chan []byte
	err  error
	done bool
}

var _ store.Subscription = (*subscription)(nil)

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.st.mu.Lock()
	if set := s.st.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.st.subs, s.channel)
		}
	}
	s.st.mu.Unlock()
	s.end(nil)
	return nil
}

// deliver never blocks; false means the buffer is full or the subscription ended.
func (s *subscription) deliver(msg []byte) (delivered, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false, false
	}
	select {
	case s.ch <- msg:
		return true, false
	default:
		return false, true
	}
}

func (s *subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}

func (s *Store) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("subscribe"); err != nil {
		return nil, err
	}
	sub := &subscription{st: s, channel: channel, ch: make(chan []byte, s.subBuffer)}
	set := s.subs[channel]
	if set == nil {
		set = make(map[*subscription]struct{})
		s.subs[channel] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (s *Store) Publish(_ context.Context, channel string, msg []byte) (int64, error) {
	s.mu.Lock()
	if err := s.checkLocked("publish"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	var (
		n    int64
		slow []*subscription
	)
	set := s.subs[channel]
	for sub := range set {
		ok, full := sub.deliver(clone(msg))
		if ok {
			n++
		}
		if full {
			slow = append(slow, sub)
			delete(set, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range slow {
		sub.end(store.Transport("subscribe", store.ErrSlowSubscriber))
	}
	return n, nil
}
