package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// future memoizes one load. The load runs on its own goroutine so that no
// single caller's context can abort it for everyone else.
type future[T any] struct {
	once  sync.Once
	done  chan struct{}
	val   T
	err   error
	loads atomic.Int32
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) get(ctx context.Context, load func() (T, error)) (T, error) {
	f.once.Do(func() {
		f.loads.Add(1)
		go func() {
			defer close(f.done)
			f.val, f.err = load()
		}()
	})
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ready reports whether the load has finished.
func (f *future[T]) ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
