package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	DefaultHandler[int]

	mu         sync.Mutex
	launched   bool
	launchErr  error
	closed     bool
	completed  bool
	noRequests int
	errs       []error
}

func (h *recordingHandler) OnLaunch(ctx context.Context) (int, error) {
	h.mu.Lock()
	h.launched = true
	h.mu.Unlock()
	return 0, h.launchErr
}

func (h *recordingHandler) OnClose(ctx context.Context, state int) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *recordingHandler) OnCompletion(ctx context.Context) {
	h.mu.Lock()
	h.completed = true
	h.mu.Unlock()
}

func (h *recordingHandler) OnNoRequest(ctx context.Context, state int) {
	h.mu.Lock()
	h.noRequests++
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(ctx context.Context, err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func TestWorkerRunsSubmittedJobsInOrder(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	defer w.Shutdown()

	var mu sync.Mutex
	var seen []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, w.Submit(func(ctx context.Context, state int) {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestSubmit2ReturnsTypedReply(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	defer w.Shutdown()

	got, err := Submit2(w, func(ctx context.Context, state int) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}

func TestSubmit2PropagatesHandlerError(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	defer w.Shutdown()

	boom := errors.New("boom")
	_, err := Submit2(w, func(ctx context.Context, state int) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
}

func TestWorkerShutdownRunsCloseAndCompletion(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	w.Shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()
	require.True(t, h.launched)
	require.True(t, h.closed)
	require.True(t, h.completed)
}

func TestWorkerSubmitAfterShutdownFails(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	w.Shutdown()

	require.False(t, w.Submit(func(context.Context, int) {}))
}

func TestWorkerOnLaunchErrorSkipsCloseNeverRuns(t *testing.T) {
	h := &recordingHandler{launchErr: errors.New("launch failed")}
	w := New[int]("test", NewQueue[int](), h, 0)
	w.Shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.errs, 1)
	require.False(t, h.closed, "on_close must not run when on_launch failed")
	require.False(t, h.completed)
}

func TestWorkerNoRequestTimeoutFiresOnNoRequest(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 5*time.Millisecond)
	defer w.Shutdown()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.noRequests > 0
	}, time.Second, time.Millisecond)
}

func TestWorkerRecoversFromPanicInRequest(t *testing.T) {
	h := &recordingHandler{}
	w := New[int]("test", NewQueue[int](), h, 0)
	defer w.Shutdown()

	require.True(t, w.Submit(func(ctx context.Context, state int) {
		panic("boom")
	}))

	got, err := Submit2(w, func(ctx context.Context, state int) (string, error) {
		return "survived", nil
	})
	require.NoError(t, err)
	require.Equal(t, "survived", got)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.errs) == 1
	}, time.Second, time.Millisecond)
}
