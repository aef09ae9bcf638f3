// Package messaging is the broker abstraction between the contract registry
// and the position consolidator: durable named queues, explicit
// acknowledgment, and the publisher that turns new contracts into events.
package messaging

import (
	"context"
	"errors"
	"time"
)

// DefaultQueue is the queue ContractCreated events travel on.
const DefaultQueue = "posicao_queue"

var (
	ErrQueueNotDeclared = errors.New("queue not declared")
	ErrBrokerClosed     = errors.New("broker closed")
)

// Broker is a minimal publish/subscribe-with-acknowledgment contract over
// durable queues.
type Broker interface {
	// DeclareDurable idempotently ensures queue exists, survives broker
	// restarts and is shared by every consumer.
	DeclareDurable(ctx context.Context, queue string) error

	// Publish enqueues data on queue. A nil error means the broker stored it.
	Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error

	// Subscribe starts one delivery loop on queue. handler runs for one
	// delivery at a time and must Ack, Nak or Term it; nothing is
	// acknowledged automatically.
	Subscribe(ctx context.Context, queue string, handler Handler) (Subscription, error)
}

// Handler processes one delivery.
type Handler func(ctx context.Context, d Delivery)

// Subscription is a running delivery loop.
type Subscription interface {
	// Stop takes no new deliveries and returns once the in-flight handler,
	// if any, has returned.
	Stop()
}

// PublishOption customises a single publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	messageID string
}

// WithMessageID lets the broker drop republished copies of the same message
// inside its dedup window.
func WithMessageID(id string) PublishOption {
	return func(o *publishOptions) { o.messageID = id }
}

func applyPublishOptions(opts []PublishOption) publishOptions {
	var o publishOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Delivery is one message handed to a Handler together with its
// acknowledgment controls.
type Delivery struct {
	Queue     string
	Data      []byte
	MessageID string
	Attempt   uint64 // 1 on first delivery
	Received  time.Time

	ack  func() error
	nak  func(delay time.Duration) error
	term func() error
}

// NewDelivery assembles a delivery from its acknowledgment callbacks.
func NewDelivery(queue string, data []byte, ack func() error, nak func(time.Duration) error, term func() error) Delivery {
	return Delivery{
		Queue:    queue,
		Data:     data,
		Attempt:  1,
		Received: time.Now(),
		ack:      ack,
		nak:      nak,
		term:     term,
	}
}

// Ack removes the message from the queue.
func (d Delivery) Ack() error {
	return d.ack()
}

// Nak asks for redelivery after delay.
func (d Delivery) Nak(delay time.Duration) error {
	return d.nak(delay)
}

// Term removes the message without processing it; it will never be
// redelivered.
func (d Delivery) Term() error {
	return d.term()
}
