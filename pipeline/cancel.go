package pipeline

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/bitrise-io/s3dokan/chunk"
	"github.com/bitrise-io/s3dokan/errkind"
)

// CancelToken carries a user requested cancellation to a session and its workers.
// Only the first Cancel has an effect.
type CancelToken struct {
	requested atomic.Bool
	ctx       context.Context
	cancel    context.CancelCauseFunc
}

// NewCancelToken creates a token whose context is derived from parent.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context is cancelled with errkind.ErrInterrupted as its cause once the token is cancelled.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Cancel requests cancellation and reports whether this call was the one that did it.
func (t *CancelToken) Cancel() bool {
	if !t.requested.CompareAndSwap(false, true) {
		return false
	}
	t.cancel(errkind.ErrInterrupted)
	return true
}

// Requested ...
func (t *CancelToken) Requested() bool {
	return t.requested.Load() || t.ctx.Err() != nil
}

// Release frees the resources of the token's context.
func (t *CancelToken) Release() {
	t.cancel(context.Canceled)
}

// CancelOnSignal cancels the token when one of sigs arrives and calls onFirst once.
// Further signals are swallowed until the returned stop function is called.
func (t *CancelToken) CancelOnSignal(onFirst func(os.Signal), sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)

	go func() {
		for {
			select {
			case sig := <-ch:
				if t.Cancel() && onFirst != nil {
					onFirst(sig)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// guard stops the sequence at the first element pulled after cancellation was requested.
func guard[T any](seq chunk.Sequence[T], token *CancelToken) chunk.Sequence[T] {
	return func(yield func(T) bool) error {
		return seq(func(v T) bool {
			if token.Requested() {
				return false
			}
			return yield(v)
		})
	}
}
