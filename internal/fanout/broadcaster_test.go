// ABOUTME: Tests for the keyed fan-out broadcaster
// ABOUTME: Covers delivery, key isolation, exclusion, slow subscribers and cancellation

package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestBroadcaster_MultipleSubscribersReceive(t *testing.T) {
	b := New[string](nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "chat-1")
	ch2, _ := b.Subscribe(t.Context(), "chat-1")

	assert.Equal(t, 2, b.Publish("chat-1", "hello", ""))
	assert.Equal(t, "hello", receive(t, ch1))
	assert.Equal(t, "hello", receive(t, ch2))
}

func TestBroadcaster_KeysAreIsolated(t *testing.T) {
	b := New[int](nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "a")
	ch2, _ := b.Subscribe(t.Context(), "b")

	b.Publish("a", 1, "")

	assert.Equal(t, 1, receive(t, ch1))
	select {
	case v := <-ch2:
		t.Fatalf("unexpected value on other key: %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ExcludeSubscriber(t *testing.T) {
	b := New[string](nil)
	defer b.Close()

	self, selfID := b.Subscribe(t.Context(), "k")
	other, _ := b.Subscribe(t.Context(), "k")

	assert.Equal(t, 1, b.Publish("k", "x", selfID))
	assert.Equal(t, "x", receive(t, other))
	assert.Empty(t, self)
}

func TestBroadcaster_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := New[int](nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "k")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("k", i, "")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := New[string](nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "k")
	cancel()

	require.Eventually(t, func() bool { return b.Subscribers("k") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_CloseClosesChannels(t *testing.T) {
	b := New[string](nil)
	ch, _ := b.Subscribe(t.Context(), "k")
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context(), "k")
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New[int](nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			_, id := b.Subscribe(ctx, "k")
			b.Publish("k", i, "")
			b.Unsubscribe("k", id)
			cancel()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers("k"))
}
