// Package xsync provides the concurrency primitives shared by the
// orchestrator and queue runtime: a pluggable goroutine pool, a
// counting semaphore, and a cancellable future.
package xsync

import (
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"github.com/panjf2000/ants/v2"
	conc "github.com/sourcegraph/conc/pool"

	"github.com/kernel-memory/km/pkg/safe"
)

// Pool is the common interface for every goroutine-pool backend the
// orchestrator can be configured with.
type Pool interface {
	// Submit schedules f for concurrent execution. It may block if the
	// backing pool is at capacity.
	Submit(f func()) error
}

var defaultPool atomic.Value

func init() {
	defaultPool.Store(PoolOfNoPool())
}

// DefaultPool returns the process-wide default pool.
func DefaultPool() Pool {
	return defaultPool.Load().(Pool)
}

// SetDefaultPool replaces the process-wide default pool. A nil pool is
// ignored.
func SetDefaultPool(p Pool) {
	if p == nil {
		return
	}
	defaultPool.Store(p)
}

type poolAdapter func(f func()) error

func (p poolAdapter) Submit(f func()) error { return p(f) }

// PoolOfNoPool returns a Pool that launches an unbounded goroutine per
// submission, with panic recovery. Suitable for tests and for hosts that
// bound concurrency another way (e.g. a Limiter in front of Submit).
func PoolOfNoPool() Pool {
	return poolAdapter(func(f func()) error {
		safe.Go(f)
		return nil
	})
}

// PoolOfAnts wraps an *ants.Pool with a fixed worker count.
func PoolOfAnts(size int) (Pool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return poolAdapter(func(f func()) error {
		return p.Submit(f)
	}), nil
}

// PoolOfWorkerPool wraps a github.com/gammazero/workerpool.WorkerPool.
func PoolOfWorkerPool(size int) Pool {
	wp := workerpool.New(size)
	return poolAdapter(func(f func()) error {
		wp.Submit(f)
		return nil
	})
}

// PoolOfConc wraps a github.com/sourcegraph/conc/pool.Pool bounded to
// maxGoroutines concurrent tasks.
func PoolOfConc(maxGoroutines int) Pool {
	p := conc.New().WithMaxGoroutines(maxGoroutines)
	return poolAdapter(func(f func()) error {
		p.Go(f)
		return nil
	})
}
