// Package worker implements a reusable single-inbox actor abstraction: one
// goroutine per worker, cooperative single-request-at-a-time scheduling,
// and a handler lifecycle (on_launch/on_request/on_no_request/on_close/
// on_error/on_completion).
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Handler owns the worker's mutable state S and reacts to its lifecycle.
// OnRequest need not do anything beyond invoking job(ctx, state); it exists
// so a handler can wrap every request with shared bookkeeping (timing,
// panic recovery hooks, metrics) the way the prevalidator and external
// validator proxy both want.
type Handler[S any] interface {
	OnLaunch(ctx context.Context) (S, error)
	OnRequest(ctx context.Context, state S, job Job[S])
	OnNoRequest(ctx context.Context, state S)
	OnClose(ctx context.Context, state S)
	OnError(ctx context.Context, err error)
	OnCompletion(ctx context.Context)
}

// DefaultHandler supplies no-op OnNoRequest/OnClose/OnError/OnCompletion so
// callers only implement the hooks they care about.
type DefaultHandler[S any] struct{}

func (DefaultHandler[S]) OnRequest(ctx context.Context, state S, job Job[S]) { job(ctx, state) }
func (DefaultHandler[S]) OnNoRequest(ctx context.Context, state S)          {}
func (DefaultHandler[S]) OnClose(ctx context.Context, state S)              {}
func (DefaultHandler[S]) OnError(ctx context.Context, err error)            {}
func (DefaultHandler[S]) OnCompletion(ctx context.Context)                  {}

// ErrInboxClosed is returned by Submit2 when the inbox refuses the job: the
// worker has already begun shutting down, or a Bounded inbox is full.
var ErrInboxClosed = errors.New("worker: inbox closed")

// Worker runs handler's lifecycle on its own goroutine, serving jobs popped
// from inbox one at a time.
type Worker[S any] struct {
	name    string
	inbox   Inbox[S]
	handler Handler[S]

	noRequestTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	log log.Logger
}

// New launches a worker immediately; call Shutdown to stop it. A zero
// noRequestTimeout disables OnNoRequest (pop blocks indefinitely for a
// request or cancellation).
func New[S any](name string, inbox Inbox[S], handler Handler[S], noRequestTimeout time.Duration) *Worker[S] {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker[S]{
		name:             name,
		inbox:            inbox,
		handler:          handler,
		noRequestTimeout: noRequestTimeout,
		cancel:           cancel,
		done:             make(chan struct{}),
		log:              log.New("worker", name),
	}
	go w.run(ctx)
	return w
}

func (w *Worker[S]) run(ctx context.Context) {
	defer close(w.done)

	state, err := w.handler.OnLaunch(ctx)
	if err != nil {
		w.handler.OnError(ctx, fmt.Errorf("on_launch: %w", err))
		return
	}

	for {
		popCtx := ctx
		var stopTimer context.CancelFunc
		if w.noRequestTimeout > 0 {
			popCtx, stopTimer = context.WithTimeout(ctx, w.noRequestTimeout)
		}
		job, ok := w.inbox.pop(popCtx)
		if stopTimer != nil {
			stopTimer()
		}
		if !ok {
			if ctx.Err() != nil {
				break
			}
			w.handler.OnNoRequest(ctx, state)
			continue
		}
		w.runOne(ctx, state, job)
	}

	w.inbox.close()
	w.handler.OnClose(ctx, state)
	w.handler.OnCompletion(ctx)
}

func (w *Worker[S]) runOne(ctx context.Context, state S, job Job[S]) {
	defer func() {
		if r := recover(); r != nil {
			w.handler.OnError(ctx, fmt.Errorf("panic in request: %v", r))
		}
	}()
	w.handler.OnRequest(ctx, state, job)
}

// Submit enqueues a job without waiting for a reply. It returns false if the
// worker's inbox refused it (Bounded at capacity, or already shut down).
func (w *Worker[S]) Submit(j Job[S]) bool { return w.inbox.push(j) }

// Shutdown cancels the worker's context and blocks until its goroutine has
// run on_close/on_completion and exited. A canceler cascades to every
// inflight await owned by the worker.
func (w *Worker[S]) Shutdown() {
	w.cancel()
	<-w.done
}

type replyResult[R any] struct {
	value R
	err   error
}

// Submit2 enqueues fn and blocks for its typed reply, giving request/
// response semantics on top of the plain fire-and-forget Job. Each call to
// Submit2 is the Go equivalent of one GADT-typed `Request<a>` value: the
// response type is fixed by R, checked at compile time rather than decoded
// from a runtime tag.
func Submit2[S any, R any](w *Worker[S], fn func(ctx context.Context, state S) (R, error)) (R, error) {
	reply := make(chan replyResult[R], 1)
	ok := w.Submit(func(ctx context.Context, state S) {
		v, err := fn(ctx, state)
		reply <- replyResult[R]{value: v, err: err}
	})
	if !ok {
		var zero R
		return zero, ErrInboxClosed
	}
	r := <-reply
	return r.value, r.err
}
