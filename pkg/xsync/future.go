package xsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFutureCancelled is returned by Get when the future was cancelled
// before its task completed.
var ErrFutureCancelled = errors.New("xsync: future cancelled")

// FutureState is the lifecycle state of a Future.
type FutureState int32

const (
	FutureCreated FutureState = iota
	FutureRunning
	FutureSucceeded
	FutureFailed
	FutureCancelled
)

// Future represents an asynchronous computation producing a V.
type Future[V any] struct {
	task      func(interrupt <-chan struct{}) (V, error)
	state     atomic.Int32
	value     V
	err       error
	done      chan struct{}
	doneOnce  sync.Once
	interrupt chan struct{}
	runOnce   sync.Once
}

// NewFuture wraps task. The future does not start until Run is called.
func NewFuture[V any](task func(interrupt <-chan struct{}) (V, error)) *Future[V] {
	return &Future[V]{
		task:      task,
		done:      make(chan struct{}),
		interrupt: make(chan struct{}),
	}
}

// Go submits task to pool and returns its handle immediately.
func Go[V any](pool Pool, task func(interrupt <-chan struct{}) (V, error)) *Future[V] {
	f := NewFuture(task)
	_ = pool.Submit(f.Run)
	return f
}

// Run executes the task exactly once. Safe to call from a pool worker.
func (f *Future[V]) Run() {
	f.runOnce.Do(func() {
		f.state.Store(int32(FutureRunning))
		v, err := f.task(f.interrupt)
		f.complete(v, err)
	})
}

func (f *Future[V]) complete(v V, err error) {
	if f.State() == FutureCancelled {
		return
	}
	f.value, f.err = v, err
	if err != nil {
		f.state.Store(int32(FutureFailed))
	} else {
		f.state.Store(int32(FutureSucceeded))
	}
	f.doneOnce.Do(func() { close(f.done) })
}

// Cancel signals the task's interrupt channel and immediately unblocks
// any Get/GetWithContext caller with ErrFutureCancelled, regardless of
// whether the task itself has noticed the interrupt yet. It does not
// forcibly stop a running goroutine; cooperative tasks must still select
// on interrupt to stop doing work promptly.
func (f *Future[V]) Cancel() bool {
	if f.State() != FutureCreated && f.State() != FutureRunning {
		return false
	}
	f.state.Store(int32(FutureCancelled))
	close(f.interrupt)
	f.doneOnce.Do(func() { close(f.done) })
	return true
}

// State returns the current lifecycle state.
func (f *Future[V]) State() FutureState {
	return FutureState(f.state.Load())
}

// Get blocks until the task completes.
func (f *Future[V]) Get() (V, error) {
	<-f.done
	if f.State() == FutureCancelled {
		var zero V
		return zero, ErrFutureCancelled
	}
	return f.value, f.err
}

// GetWithContext blocks until the task completes or ctx is done, whichever
// happens first.
func (f *Future[V]) GetWithContext(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.Get()
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// TryGet returns immediately with (value, err, true) if the task has
// completed, or (zero, nil, false) otherwise.
func (f *Future[V]) TryGet() (V, error, bool) {
	select {
	case <-f.done:
		v, err := f.Get()
		return v, err, true
	default:
		var zero V
		return zero, nil, false
	}
}
