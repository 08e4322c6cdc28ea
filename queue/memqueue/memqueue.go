// Package memqueue is an in-process Queue backed by buffered channels,
// one per queue name, with a visibility-timeout retry loop and a
// poison queue for deliveries that exceed their attempt budget. It
// mirrors the Producer/Consumer split and the scheduler's Consume/Work/Ack
// loop this module's orchestrator is grounded on, minus any network
// broker.
package memqueue

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kernel-memory/km/kmerrors"
	"github.com/kernel-memory/km/queue"
)

// Config controls redelivery behavior.
type Config struct {
	// MaxDeliveryAttempts is the number of attempts (including the
	// first) before a message is moved to the poison queue.
	MaxDeliveryAttempts int
	// VisibilityTimeout is how long a dequeued-but-unacked message is
	// hidden before becoming eligible for redelivery.
	VisibilityTimeout time.Duration
	// Buffer is the channel buffer size per queue name.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 5
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

type lane struct {
	ch     chan *queue.Message
	poison []*queue.Message
	mu     sync.Mutex
}

// Queue is an in-memory queue.Queue. Safe for concurrent use.
type Queue struct {
	cfg   Config
	mu    sync.Mutex
	lanes map[string]*lane
	done  chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// New creates a Queue with the given configuration.
func New(cfg Config) *Queue {
	return &Queue{cfg: cfg.withDefaults(), lanes: make(map[string]*lane), done: make(chan struct{})}
}

func (q *Queue) laneFor(name string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[name]
	if !ok {
		l = &lane{ch: make(chan *queue.Message, q.cfg.Buffer)}
		q.lanes[name] = l
	}
	return l
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, msg *queue.Message) error {
	l := q.laneFor(queueName)
	select {
	case l.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return kmerrors.New(kmerrors.Fatal, "memqueue.Enqueue", errors.New("queue closed"))
	}
}

// handle is the Handle returned to callers; it remembers enough to
// Ack or requeue the message it names.
type handle struct {
	queueName string
	msg       *queue.Message
	timer     *time.Timer
}

func (q *Queue) Dequeue(ctx context.Context, queueName string) (*queue.Message, queue.Handle, error) {
	l := q.laneFor(queueName)
	select {
	case msg, ok := <-l.ch:
		if !ok {
			return nil, nil, io.EOF
		}
		msg.DeliveryCount++
		h := &handle{queueName: queueName, msg: msg}
		h.timer = time.AfterFunc(q.cfg.VisibilityTimeout, func() {
			q.requeueOrPoison(queueName, msg, l)
		})
		return msg, h, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-q.done:
		return nil, nil, io.EOF
	}
}

func (q *Queue) Ack(ctx context.Context, h queue.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return kmerrors.New(kmerrors.Validation, "memqueue.Ack", errors.New("invalid handle"))
	}
	hd.timer.Stop()
	return nil
}

func (q *Queue) Nack(ctx context.Context, h queue.Handle) error {
	hd, ok := h.(*handle)
	if !ok {
		return kmerrors.New(kmerrors.Validation, "memqueue.Nack", errors.New("invalid handle"))
	}
	hd.timer.Stop()
	l := q.laneFor(hd.queueName)
	q.requeueOrPoison(hd.queueName, hd.msg, l)
	return nil
}

func (q *Queue) requeueOrPoison(queueName string, msg *queue.Message, l *lane) {
	if msg.DeliveryCount >= q.cfg.MaxDeliveryAttempts {
		l.mu.Lock()
		l.poison = append(l.poison, msg)
		l.mu.Unlock()
		return
	}
	select {
	case l.ch <- msg:
	default:
		l.mu.Lock()
		l.poison = append(l.poison, msg)
		l.mu.Unlock()
	}
}

// PoisonMessages returns every message moved to queueName's poison
// queue, for inspection or manual replay.
func (q *Queue) PoisonMessages(queueName string) []*queue.Message {
	l := q.laneFor(queueName)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*queue.Message, len(l.poison))
	copy(out, l.poison)
	return out
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	for _, l := range q.lanes {
		close(l.ch)
	}
	return nil
}
