package transport

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous operation. It is resolved exactly once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// NewFuture creates an unresolved future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a future that is already resolved with v
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Resolve sets the value and wakes all waiters. Later calls are ignored.
func (f *Future[T]) Resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// Wait blocks until the future is resolved
func (f *Future[T]) Wait() T {
	<-f.done
	return f.value
}

// WaitContext blocks until the future is resolved or ctx is done
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
