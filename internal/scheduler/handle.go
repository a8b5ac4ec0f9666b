package scheduler

import (
	"context"
	"sync"
)

// Handle is the one-shot completion of a submitted request. It settles
// exactly once, with either a value or an error.
type Handle[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newHandle[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

func resolvedHandle[T any](v T) *Handle[T] {
	h := newHandle[T]()
	h.resolve(v)
	return h
}

// resolve settles the handle with v. It reports false if the handle was
// already settled.
func (h *Handle[T]) resolve(v T) bool {
	settled := false
	h.once.Do(func() {
		h.val = v
		close(h.done)
		settled = true
	})
	return settled
}

// reject settles the handle with err. It reports false if the handle was
// already settled.
func (h *Handle[T]) reject(err error) bool {
	settled := false
	h.once.Do(func() {
		h.err = err
		close(h.done)
		settled = true
	})
	return settled
}

// Done is closed once the handle has settled.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle settles or ctx is done. Giving up on a
// handle does not cancel the request; use Scheduler.CancelForImage.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the handle has settled, without blocking.
func (h *Handle[T]) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
