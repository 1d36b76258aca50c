package handle

import (
	"context"
	"errors"
	"fmt"
)

// Do runs fn and then closes every handle in hs exactly once, whether fn
// returns nil, returns an error, or panics. A panic is re-raised after the
// handles are closed. Close errors are joined after fn's error.
func Do(fn func() error, hs ...Closer) (err error) {
	defer func() {
		if cerr := closeAll(hs); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn()
}

// Value is Do for continuations that produce a value.
func Value[T any](fn func() (T, error), hs ...Closer) (v T, err error) {
	defer func() {
		if cerr := closeAll(hs); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn()
}

// Future is the pending result of a continuation started by Go.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on its own goroutine and closes every handle in hs exactly once
// when fn finishes, whether it succeeds, fails or panics. A panic is turned
// into the future's error.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error), hs ...Closer) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("handle: continuation panicked: %v", r)
			}
			if cerr := closeAll(hs); cerr != nil {
				f.err = errors.Join(f.err, cerr)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Done is closed once the continuation has finished and its handles have
// been released.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the continuation finishes or ctx ends. Abandoning the
// wait does not stop the continuation; its handles are still released when
// it finishes.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
