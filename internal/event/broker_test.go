package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	require.Equal(t, 2, b.Count())

	ev := New(ActionBorrow, 1, 10, 100)
	b.Publish(ev)

	for _, s := range []*Subscriber{s1, s2} {
		select {
		case got := <-s.C:
			require.Equal(t, ev.ID, got.ID)
			require.Equal(t, ActionBorrow, got.Action)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerPreservesPublishOrder(t *testing.T) {
	b := NewBroker(16)
	defer b.Close()
	s := b.Subscribe()

	for i := uint64(1); i <= 10; i++ {
		b.Publish(New(ActionBorrow, i, 1, i))
	}
	for i := uint64(1); i <= 10; i++ {
		got := <-s.C
		require.Equal(t, i, got.BookID)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(2)
	defer b.Close()
	slow := b.Subscribe()

	// The subscriber never reads; publishing past its buffer must drop
	// rather than block.
	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 20; i++ {
			b.Publish(New(ActionReturn, i, 1, i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, slow.C, 2, "slow subscriber keeps only what fit in its buffer")
	require.Equal(t, uint64(1), (<-slow.C).BookID, "what was kept is the oldest, in order")
	require.Equal(t, uint64(2), (<-slow.C).BookID)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(4)
	defer b.Close()

	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Unsubscribe(s) // idempotent

	_, ok := <-s.C
	require.False(t, ok)
	require.Zero(t, b.Count())

	// Publishing after the unsubscribe must not panic.
	b.Publish(New(ActionBorrow, 1, 1, 1))
}

func TestBrokerConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroker(8)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		s := b.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range s.C {
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			b.Unsubscribe(s)
		}()
	}
	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 1000; i++ {
			b.Publish(New(ActionBorrow, i, 1, i))
		}
		close(done)
	}()

	wg.Wait()
	<-done
	require.Zero(t, b.Count())
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4)
	s := b.Subscribe()
	b.Close()

	_, ok := <-s.C
	require.False(t, ok)

	// Subscribing after close yields an already-closed channel.
	late := b.Subscribe()
	_, ok = <-late.C
	require.False(t, ok)

	b.Publish(New(ActionBorrow, 1, 1, 1)) // no-op
	b.Close()                             // idempotent
}

func TestEventWireShape(t *testing.T) {
	ev := Event{
		ID:        "x",
		Action:    ActionReturn,
		BookID:    42,
		UserID:    7,
		LoanID:    9,
		Timestamp: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	w := ev.Wire()
	require.Equal(t, "return", w.Action)
	require.Equal(t, "42", w.BookID)
	require.Equal(t, "2025-03-14T09:26:53Z", w.Timestamp)
}
