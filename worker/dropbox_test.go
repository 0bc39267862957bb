package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sumMerge(old, new int) int { return old + new }

func TestDropboxPutThenTake(t *testing.T) {
	d := NewDropbox(sumMerge)
	d.Put(5)
	v, ok := d.Take(context.Background())
	require.True(t, ok)
	require.Equal(t, 5, v)
}

func TestDropboxSecondPutMergesWithPending(t *testing.T) {
	d := NewDropbox(sumMerge)
	d.Put(5)
	d.Put(7) // merged with the still-pending 5 before any Take

	v, ok := d.Take(context.Background())
	require.True(t, ok)
	require.Equal(t, 12, v)
}

func TestDropboxTakeBlocksUntilPut(t *testing.T) {
	d := NewDropbox(sumMerge)
	done := make(chan struct{})
	var got int
	var ok bool
	go func() {
		got, ok = d.Take(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Take returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	d.Put(3)
	<-done
	require.True(t, ok)
	require.Equal(t, 3, got)
}

func TestDropboxCloseUnblocksTake(t *testing.T) {
	d := NewDropbox(sumMerge)
	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = d.Take(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Take returned before Close")
	case <-time.After(20 * time.Millisecond):
	}

	d.Close()
	<-done
	require.False(t, ok)
}

func TestDropboxTakeRespectsContextCancellation(t *testing.T) {
	d := NewDropbox(sumMerge)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := d.Take(ctx)
	require.False(t, ok)
}
