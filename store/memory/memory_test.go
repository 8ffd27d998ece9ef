package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/coherent/store"
)

func TestMapVersionsAreMonotonicAcrossDeletes(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close(ctx)

	v1, err := s.Put(ctx, "m", "a", []byte("1"))
	require.NoError(t, err)
	v2, err := s.Put(ctx, "m", "a", []byte("2"))
	require.NoError(t, err)
	require.Greater(t, v2, v1)

	deleted, v3, err := s.Delete(ctx, "m", "a")
	require.NoError(t, err)
	require.True(t, deleted)
	require.Greater(t, v3, v2)

	v4, err := s.Put(ctx, "m", "a", []byte("3"))
	require.NoError(t, err)
	require.Greater(t, v4, v3)

	val, ver, found, err := s.Get(ctx, "m", "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("3"), val)
	require.Equal(t, v4, ver)

	deleted, _, err = s.Delete(ctx, "m", "missing")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestGetManyReturnsOnlyExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Put(ctx, "m", "a", []byte("1"))
	_, _ = s.Put(ctx, "m", "c", []byte("3"))

	got, err := s.GetMany(ctx, "m", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []byte("3"), got["c"].Value)

	n, err := s.Size(ctx, "m")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestListSidesAndRange(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Push(ctx, "l", store.Back, []byte("1"), []byte("2"), []byte("3"))
	require.NoError(t, err)
	n, err := s.Push(ctx, "l", store.Front, []byte("0"))
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	all, err := s.Range(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("0"), []byte("1"), []byte("2"), []byte("3")}, all)

	v, ok, err := s.Pop(ctx, "l", store.Back)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("3"), v)

	v, ok, err = s.Pop(ctx, "l", store.Front)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("0"), v)
}

func TestBlockingPopTimesOutWithoutError(t *testing.T) {
	s := New()
	start := time.Now()
	v, ok, err := s.BlockingPop(context.Background(), "empty", store.Front, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBlockingPopWakesOnPush(t *testing.T) {
	s := New()
	got := make(chan []byte, 1)
	go func() {
		v, ok, err := s.BlockingPop(context.Background(), "q", store.Front, time.Second)
		if err == nil && ok {
			got <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)
	_, err := s.Push(context.Background(), "q", store.Back, []byte("x"))
	require.NoError(t, err)

	select {
	case v := <-got:
		require.Equal(t, []byte("x"), v)
	case <-time.After(time.Second):
		t.Fatal("blocking pop was not woken by push")
	}
}

func TestBlockingPopCancelLeavesListIntact(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := s.BlockingPop(ctx, "q", store.Front, 0)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	_, _ = s.Push(context.Background(), "q", store.Back, []byte("kept"))
	n, _ := s.Len(context.Background(), "q")
	require.EqualValues(t, 1, n)
}

func TestCompetingConsumersReceiveEachElementOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 100; i++ {
		_, _ = s.Push(ctx, "q", store.Back, []byte{byte(i)})
	}

	var (
		mu   sync.Mutex
		seen = make(map[byte]int)
		wg   sync.WaitGroup
	)
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := s.BlockingPop(ctx, "q", store.Front, 20*time.Millisecond)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[v[0]]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 100)
	for b, n := range seen {
		require.Equalf(t, 1, n, "element %d delivered %d times", b, n)
	}
}

func TestSortedSetTieBreakByMemberBytes(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Add(ctx, "z", []byte("b"), 1)
	_, _ = s.Add(ctx, "z", []byte("a"), 1)
	_, _ = s.Add(ctx, "z", []byte("c"), 0.5)

	got, err := s.RangeByRank(ctx, "z", 0, -1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "c", string(got[0].Member))
	require.Equal(t, "a", string(got[1].Member))
	require.Equal(t, "b", string(got[2].Member))

	rank, ok, err := s.Rank(ctx, "z", []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, rank)

	score, err := s.IncrBy(ctx, "z", []byte("new"), 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, score)
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Subscribe(ctx, "room")
	require.NoError(t, err)
	b, err := s.Subscribe(ctx, "room")
	require.NoError(t, err)

	n, err := s.Publish(ctx, "room", []byte("ping"))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, []byte("ping"), <-a.Messages())
	require.Equal(t, []byte("ping"), <-b.Messages())

	require.NoError(t, a.Close())
	_, open := <-a.Messages()
	require.False(t, open)
	require.NoError(t, a.Err())
	require.Equal(t, 1, s.Subscribers("room"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	ctx := context.Background()
	s := New(WithSubscriberBuffer(1))
	sub, err := s.Subscribe(ctx, "c")
	require.NoError(t, err)

	_, _ = s.Publish(ctx, "c", []byte("1"))
	_, _ = s.Publish(ctx, "c", []byte("2"))

	<-sub.Messages()
	_, open := <-sub.Messages()
	require.False(t, open)
	require.ErrorIs(t, sub.Err(), store.ErrSlowSubscriber)
}

func TestUnavailableFailsWithTransportError(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Subscribe(ctx, "c")
	require.NoError(t, err)

	s.SetAvailable(false)
	_, open := <-sub.Messages()
	require.False(t, open)
	require.True(t, store.IsTransport(sub.Err()))

	_, err = s.Put(ctx, "m", "k", []byte("v"))
	require.True(t, store.IsTransport(err))
	require.True(t, errors.Is(err, ErrUnavailable))

	s.SetAvailable(true)
	_, err = s.Put(ctx, "m", "k", []byte("v"))
	require.NoError(t, err)
}
