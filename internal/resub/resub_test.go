package resub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/coherent/store"
	"github.com/unkn0wn-root/coherent/store/memory"
)

type recorder struct {
	mu          sync.Mutex
	msgs        []string
	disconnects int
	reconnects  []int
	failures    int
}

func (r *recorder) config(st *memory.Store) Config {
	return Config{
		Channel:   "ch",
		Subscribe: st.Subscribe,
		Handle: func(b []byte) {
			r.mu.Lock()
			r.msgs = append(r.msgs, string(b))
			r.mu.Unlock()
		},
		OnDisconnect: func(error) {
			r.mu.Lock()
			r.disconnects++
			r.mu.Unlock()
		},
		OnRetryFailed: func(int, error) {
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
		},
		OnReconnect: func(attempt int) {
			r.mu.Lock()
			r.reconnects = append(r.reconnects, attempt)
			r.mu.Unlock()
		},
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
}

func (r *recorder) snapshot() (msgs []string, disconnects int, reconnects []int, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...), r.disconnects, append([]int(nil), r.reconnects...), r.failures
}

func TestStartFailsWhenStoreUnavailable(t *testing.T) {
	st := memory.New()
	st.SetAvailable(false)
	var r recorder
	_, err := Start(context.Background(), r.config(st))
	require.Error(t, err)
	require.True(t, store.IsTransport(err))
}

func TestDeliversMessages(t *testing.T) {
	st := memory.New()
	var r recorder
	m, err := Start(context.Background(), r.config(st))
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, Connected, m.State())

	_, err = st.Publish(context.Background(), "ch", []byte("hello"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _, _, _ := r.snapshot()
		return len(msgs) == 1 && msgs[0] == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestResubscribesAfterSessionLoss(t *testing.T) {
	st := memory.New()
	var r recorder
	m, err := Start(context.Background(), r.config(st))
	require.NoError(t, err)
	defer m.Close()

	st.DropSubscriptions()

	require.Eventually(t, func() bool {
		_, d, rc, _ := r.snapshot()
		return d == 1 && len(rc) == 1 && m.State() == Connected && st.Subscribers("ch") == 1
	}, time.Second, 5*time.Millisecond)

	_, err = st.Publish(context.Background(), "ch", []byte("after"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _, _, _ := r.snapshot()
		return len(msgs) == 1 && msgs[0] == "after"
	}, time.Second, 5*time.Millisecond)
}

func TestRetriesUntilStoreReturns(t *testing.T) {
	st := memory.New()
	var r recorder
	m, err := Start(context.Background(), r.config(st))
	require.NoError(t, err)
	defer m.Close()

	st.SetAvailable(false)
	require.Eventually(t, func() bool {
		_, _, _, f := r.snapshot()
		return f >= 2
	}, time.Second, 5*time.Millisecond)
	require.NotEqual(t, Connected, m.State())

	st.SetAvailable(true)
	require.Eventually(t, func() bool {
		_, _, rc, _ := r.snapshot()
		return len(rc) == 1 && rc[0] > 1 && m.State() == Connected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectHookRunsBeforeNewMessages(t *testing.T) {
	st := memory.New()
	var (
		order []string
		mu    sync.Mutex
		gate  = make(chan struct{})
	)
	cfg := Config{
		Channel:   "ch",
		Subscribe: st.Subscribe,
		Handle: func(b []byte) {
			mu.Lock()
			order = append(order, "msg:"+string(b))
			mu.Unlock()
		},
		OnReconnect: func(int) {
			<-gate
			mu.Lock()
			order = append(order, "reconnect")
			mu.Unlock()
		},
		InitialBackoff: time.Millisecond,
	}
	m, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close()

	st.DropSubscriptions()
	require.Eventually(t, func() bool { return st.Subscribers("ch") == 1 }, time.Second, time.Millisecond)
	_, err = st.Publish(context.Background(), "ch", []byte("x"))
	require.NoError(t, err)
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"reconnect", "msg:x"}, order)
}

func TestCloseStopsDelivery(t *testing.T) {
	st := memory.New()
	var handled atomic.Int32
	m, err := Start(context.Background(), Config{
		Channel:   "ch",
		Subscribe: st.Subscribe,
		Handle:    func([]byte) { handled.Add(1) },
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.Equal(t, 0, st.Subscribers("ch"))

	_, _ = st.Publish(context.Background(), "ch", []byte("late"))
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, handled.Load())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connected", Connected.String())
	require.Equal(t, "disconnected", Disconnected.String())
	require.Equal(t, "resubscribing", Resubscribing.String())
}
