// Package resub keeps a channel subscription alive. A Manager owns one
// subscription at a time: it feeds every message to a handler, notices when
// the subscription dies and resubscribes with exponential backoff until it
// succeeds or the manager is closed. Retries are unbounded.
package resub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/coherent/store"
)

// ErrEnded is reported when a subscription closed without giving a reason.
var ErrEnded = errors.New("resub: subscription ended")

type State int32

const (
	Connected State = iota
	Disconnected
	Resubscribing
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Resubscribing:
		return "resubscribing"
	default:
		return "unknown"
	}
}

type Config struct {
	Channel   string
	Subscribe func(ctx context.Context, channel string) (store.Subscription, error)
	// Handle is called for every message, one at a time.
	Handle func(msg []byte)

	// OnDisconnect runs when a live subscription fails.
	OnDisconnect func(err error)
	// OnRetryFailed runs after each failed resubscribe attempt.
	OnRetryFailed func(attempt int, err error)
	// OnReconnect runs after a successful resubscribe and before any message
	// of the new subscription is handled. It is not called for the first
	// subscription.
	OnReconnect func(attempt int)

	InitialBackoff time.Duration // 0 => 100ms
	MaxBackoff     time.Duration // 0 => 10s
}

type Manager struct {
	cfg   Config
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	sub store.Subscription
}

// Start subscribes once synchronously; an error here is returned to the
// caller. Afterwards all failures are handled in the background.
func Start(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Subscribe == nil || cfg.Handle == nil {
		return nil, errors.New("resub: Subscribe and Handle are required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	sub, err := cfg.Subscribe(ctx, cfg.Channel)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		ctx:    rctx,
		cancel: cancel,
		done:   make(chan struct{}),
		sub:    sub,
	}
	m.state.Store(int32(Connected))
	go m.run(sub)
	return m, nil
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) Channel() string { return m.cfg.Channel }

// Close stops delivery and waits for the background loop to exit.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	<-m.done
	return err
}

func (m *Manager) run(sub store.Subscription) {
	defer close(m.done)
	for {
		err := m.pump(sub)
		_ = sub.Close()
		if m.ctx.Err() != nil {
			return
		}
		m.state.Store(int32(Disconnected))
		if m.cfg.OnDisconnect != nil {
			m.cfg.OnDisconnect(err)
		}
		if sub = m.resubscribe(); sub == nil {
			return
		}
	}
}

// pump delivers messages until sub ends and returns why it ended.
func (m *Manager) pump(sub store.Subscription) error {
	msgs := sub.Messages()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return ErrEnded
			}
			m.cfg.Handle(msg)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Manager) resubscribe() store.Subscription {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialBackoff
	b.MaxInterval = m.cfg.MaxBackoff
	b.Reset()

	for attempt := 1; ; attempt++ {
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-t.C:
		case <-m.ctx.Done():
			t.Stop()
			return nil
		}

		m.state.Store(int32(Resubscribing))
		sub, err := m.cfg.Subscribe(m.ctx, m.cfg.Channel)
		if err != nil {
			m.state.Store(int32(Disconnected))
			if m.ctx.Err() != nil {
				return nil
			}
			if m.cfg.OnRetryFailed != nil {
				m.cfg.OnRetryFailed(attempt, err)
			}
			continue
		}

		m.mu.Lock()
		if m.ctx.Err() != nil {
			m.mu.Unlock()
			_ = sub.Close()
			return nil
		}
		m.sub = sub
		m.mu.Unlock()

		if m.cfg.OnReconnect != nil {
			m.cfg.OnReconnect(attempt)
		}
		m.state.Store(int32(Connected))
		return sub
	}
}
