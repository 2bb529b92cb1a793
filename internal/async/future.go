package async

import (
	"context"
	"sync"
)

// Future is the read half of a value produced by another goroutine.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	val T
	err error
}

// Promise is the write half of a Future. Only the first Resolve/Reject wins.
type Promise[T any] struct {
	f *Future[T]
}

func NewPromise[T any]() (Promise[T], *Future[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return Promise[T]{f: f}, f
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	p, f := NewPromise[T]()
	p.Resolve(v)
	return f
}

// Failed returns an already failed future.
func Failed[T any](err error) *Future[T] {
	p, f := NewPromise[T]()
	p.Reject(err)
	return f
}

func (p Promise[T]) Resolve(v T) {
	p.f.once.Do(func() {
		p.f.val = v
		close(p.f.done)
	})
}

func (p Promise[T]) Reject(err error) {
	p.f.once.Do(func() {
		p.f.err = err
		close(p.f.done)
	})
}

// Complete resolves or rejects depending on err.
func (p Promise[T]) Complete(v T, err error) {
	if err != nil {
		p.Reject(err)
		return
	}
	p.Resolve(v)
}

func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// WaitContext stops waiting when ctx ends. The producer keeps running.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
