package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueInboxFIFOOrder(t *testing.T) {
	q := NewQueue[int]()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, q.push(func(ctx context.Context, state int) { order = append(order, i) }))
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		j, ok := q.pop(ctx)
		require.True(t, ok)
		j(ctx, 0)
	}
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestQueueInboxPopBlocksUntilPush(t *testing.T) {
	q := NewQueue[int]()

	done := make(chan struct{})
	var got bool
	go func() {
		_, got = q.pop(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, q.push(func(context.Context, int) {}))
	<-done
	require.True(t, got)
}

func TestQueueInboxPopReturnsFalseOnCancel(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.pop(ctx)
	require.False(t, ok)
}

func TestQueueInboxPushAfterCloseFails(t *testing.T) {
	q := NewQueue[int]()
	q.close()
	require.False(t, q.push(func(context.Context, int) {}))
}

func TestQueueInboxClosePopDrainsThenFails(t *testing.T) {
	q := NewQueue[int]()
	require.True(t, q.push(func(context.Context, int) {}))
	q.close()

	_, ok := q.pop(context.Background())
	require.True(t, ok, "queued job must still be delivered after close")

	_, ok = q.pop(context.Background())
	require.False(t, ok, "pop must report closed once drained")
}

func TestBoundedInboxRejectsPushAtCapacity(t *testing.T) {
	b := NewBounded[int](2)
	require.True(t, b.push(func(context.Context, int) {}))
	require.True(t, b.push(func(context.Context, int) {}))
	require.False(t, b.push(func(context.Context, int) {}))
}

func TestBoundedInboxAcceptsAgainAfterPop(t *testing.T) {
	b := NewBounded[int](1)
	require.True(t, b.push(func(context.Context, int) {}))
	require.False(t, b.push(func(context.Context, int) {}))

	_, ok := b.pop(context.Background())
	require.True(t, ok)

	require.True(t, b.push(func(context.Context, int) {}))
}
