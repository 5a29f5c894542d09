// ABOUTME: Tests for the store-backed local mirror
// ABOUTME: Covers server timestamps, idempotent appends, replay and live delivery

package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

func newLocal(t *testing.T) (*Local, *time.Time) {
	t.Helper()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l := NewLocal(store.NewMockStore(), nil)
	l.now = func() time.Time { return now }
	t.Cleanup(func() { l.Close() })
	return l, &now
}

func next(t *testing.T, ch <-chan Entry) Entry {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mirror entry")
	}
	return Entry{}
}

func TestLocal_AppendAssignsIDAndTimestamp(t *testing.T) {
	l, now := newLocal(t)

	e := &Entry{ChatID: "c1", Text: "hello", Sender: store.SenderUser, Timestamp: time.Unix(0, 0)}
	require.NoError(t, l.Append(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.True(t, e.Timestamp.Equal(*now), "caller timestamp is replaced")
}

func TestLocal_AppendValidates(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	assert.ErrorIs(t, l.Append(ctx, &Entry{Text: "x", Sender: store.SenderUser}), ErrInvalidEntry)
	assert.ErrorIs(t, l.Append(ctx, &Entry{ChatID: "c", Sender: store.SenderUser}), ErrInvalidEntry)
	assert.ErrorIs(t, l.Append(ctx, &Entry{ChatID: "c", Text: "x", Sender: "bot"}), ErrInvalidEntry)
}

func TestLocal_DuplicateAppendIsIgnored(t *testing.T) {
	l, now := newLocal(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, &Entry{ID: "m1", ChatID: "c1", Text: "hi", Sender: store.SenderUser}))
	*now = now.Add(time.Second)
	require.NoError(t, l.Append(ctx, &Entry{ID: "m1", ChatID: "c1", Text: "hi", Sender: store.SenderUser}))

	hist, err := l.History(ctx, "c1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestLocal_SubscribeReplaysRecentThenStreams(t *testing.T) {
	l, now := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Append(ctx, &Entry{ID: "old", ChatID: "c1", Text: "old", Sender: store.SenderUser}))
	*now = now.Add(10 * time.Second)
	require.NoError(t, l.Append(ctx, &Entry{ID: "recent", ChatID: "c1", Text: "recent", Sender: store.SenderSupport}))

	ch, err := l.Subscribe(ctx, "c1", now.Add(-time.Second))
	require.NoError(t, err)

	assert.Equal(t, "recent", next(t, ch).ID)

	*now = now.Add(time.Second)
	require.NoError(t, l.Append(ctx, &Entry{ID: "live", ChatID: "c1", Text: "live", Sender: store.SenderSupport, SenderName: "Rina"}))
	require.NoError(t, l.Append(ctx, &Entry{ID: "elsewhere", ChatID: "c2", Text: "x", Sender: store.SenderUser}))

	got := next(t, ch)
	assert.Equal(t, "live", got.ID)
	assert.Equal(t, "Rina", got.SenderName)

	select {
	case e := <-ch:
		t.Fatalf("unexpected entry from another chat: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocal_SubscriptionClosesOnCancel(t *testing.T) {
	l, _ := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := l.Subscribe(ctx, "c1", time.Time{})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
