package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/pkg/xsync"
	"github.com/kernel-memory/km/queue"
)

// Worker repeatedly dequeues messages for one step name and runs them
// through an Orchestrator, acking or nacking according to the
// resulting Outcome. Grounded on this module's scheduler run/work/ack
// loop, generalized from one queue to "one worker per step name" since
// each step has its own backlog here.
type Worker struct {
	orch     *Orchestrator
	q        queue.Queue
	stepName string
	limiter  *xsync.Limiter
	pool     xsync.Pool
}

// NewWorker creates a Worker that serves stepName with up to
// maxConcurrent messages in flight at once, submitted to pool (nil
// defaults to an unbounded-goroutine pool).
func NewWorker(orch *Orchestrator, q queue.Queue, stepName string, maxConcurrent int, pool xsync.Pool) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if pool == nil {
		pool = xsync.PoolOfNoPool()
	}
	return &Worker{orch: orch, q: q, stepName: stepName, limiter: xsync.NewLimiter(maxConcurrent), pool: pool}
}

// Run dequeues and processes messages until ctx is done or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, handle, err := w.q.Dequeue(ctx, w.stepName)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("pipeline worker: dequeue failed", slog.String("step", w.stepName), slog.String("err", err.Error()))
			continue
		}

		w.limiter.Acquire()
		if err := w.pool.Submit(func() {
			defer w.limiter.Release()
			w.process(ctx, msg, handle)
		}); err != nil {
			w.limiter.Release()
			slog.Error("pipeline worker: submit failed", slog.String("step", w.stepName), slog.String("err", err.Error()))
		}
	}
}

func (w *Worker) process(ctx context.Context, msg *queue.Message, handle queue.Handle) {
	outcome, err := w.orch.RunStep(ctx, msg)
	switch outcome {
	case Complete:
		if ackErr := w.q.Ack(ctx, handle); ackErr != nil {
			slog.Error("pipeline worker: ack failed", slog.String("step", w.stepName), slog.String("err", ackErr.Error()))
		}
	case Fatal:
		if err != nil {
			slog.Error("pipeline worker: step failed fatally",
				slog.String("step", w.stepName), slog.String("document", msg.DocumentID), slog.String("err", err.Error()))
		}
		if ackErr := w.q.Ack(ctx, handle); ackErr != nil {
			slog.Error("pipeline worker: ack failed", slog.String("step", w.stepName), slog.String("err", ackErr.Error()))
		}
	default: // RetryLater, TransientError
		if err != nil && !kmerrors.Is(err, kmerrors.Transient) {
			slog.Warn("pipeline worker: retrying step",
				slog.String("step", w.stepName), slog.String("document", msg.DocumentID), slog.String("err", err.Error()))
		}
		if nackErr := w.q.Nack(ctx, handle); nackErr != nil {
			slog.Error("pipeline worker: nack failed", slog.String("step", w.stepName), slog.String("err", nackErr.Error()))
		}
	}
}
