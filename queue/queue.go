// Package queue is the pluggable durable queue (C3): one FIFO-ish
// channel of step-dispatch messages per pipeline, at-least-once
// delivery, and a poison path after a bounded number of delivery
// attempts. It follows the Producer/Consumer split of the broker
// abstraction this module was grounded on.
package queue

import (
	"context"
	"encoding/json"
	"io"
)

// Message is one unit of queued work: "run this step of this
// pipeline". DeliveryCount is incremented by the Queue on every
// redelivery, starting at 1 for the first attempt.
type Message struct {
	IndexName     string `json:"index_name"`
	DocumentID    string `json:"document_id"`
	StepName      string `json:"step_name"`
	DeliveryCount int    `json:"delivery_count"`
}

// Marshal/Unmarshal let backends that move raw bytes (e.g. an external
// broker) round-trip a Message without each adapter repeating the
// encoding.
func (m *Message) Marshal() ([]byte, error) { return json.Marshal(m) }

func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Handle is an opaque receipt a Consumer must present to Ack or Nack
// the delivery it names.
type Handle any

// Producer enqueues work onto a named queue. The queue name is
// typically the step name, so each step type has its own backlog.
type Producer interface {
	Enqueue(ctx context.Context, queueName string, msg *Message) error
}

// Consumer pulls one message at a time off a named queue and reports
// its outcome.
type Consumer interface {
	// Dequeue blocks until a message is available or ctx is done. It
	// returns io.EOF if the queue has been closed and drained.
	Dequeue(ctx context.Context, queueName string) (*Message, Handle, error)

	// Ack confirms successful processing; the message will not be
	// redelivered.
	Ack(ctx context.Context, handle Handle) error

	// Nack requests redelivery, or moves the message to the poison
	// queue if it has exhausted maxDeliveryAttempts. memqueue and
	// sqlqueue make the message deliverable again immediately, with no
	// backoff delay.
	Nack(ctx context.Context, handle Handle) error
}

// Queue is the full durable-queue contract (C3).
type Queue interface {
	Producer
	Consumer
	io.Closer
}
