// Package future implements the minimal single-value completion future the
// spec's Enqueue/dispose contracts describe ("a future that resolves once
// the item has been durably offered, or fails with its error"). There is no
// futures library in the retrieved stack (watermill and fx both favor plain
// channels/errors), so this is the one piece of reactorlink built directly
// on stdlib channels rather than a third-party type.
package future

import (
	"context"
	"sync"
)

// Future resolves exactly once, either to a value or to an error.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// New returns a Future paired with the resolve func that completes it.
// resolve is safe to call exactly once; later calls are ignored.
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	resolve := func(v T, err error) {
		once.Do(func() {
			f.val, f.err = v, err
			close(f.done)
		})
	}
	return f, resolve
}

// Done reports completion without blocking.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is done, whichever comes
// first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the resolved value/error and true, or the zero value and
// false if the future has not resolved yet. Used by EventLoop-owned code
// that must never block.
func (f *Future[T]) Peek() (T, error, bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
