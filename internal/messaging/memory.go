package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errAlreadySettled = errors.New("delivery already settled")

// QueueStats is a point-in-time view of an in-memory queue.
type QueueStats struct {
	Pending    int // waiting for a subscriber
	Delayed    int // nacked, waiting out their redelivery delay
	InFlight   int // handed to a handler, not yet settled
	Acked      int
	Terminated int // Term'ed by a handler or past MaxDeliver
	Duplicates int // publishes dropped by message id
}

// Drained reports whether nothing is left to deliver.
func (s QueueStats) Drained() bool {
	return s.Pending == 0 && s.Delayed == 0 && s.InFlight == 0
}

// MemoryBroker is an in-process Broker with the same settlement semantics as
// the JetStream one: competing subscribers per queue, explicit ack, nak with
// delayed redelivery bounded by maxDeliver, and term.
type MemoryBroker struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queues     map[string]*memQueue
	maxDeliver int
	closed     bool
}

type memQueue struct {
	pending []memMessage
	seen    map[string]struct{}
	stats   QueueStats
	dead    [][]byte
}

type memMessage struct {
	data      []byte
	messageID string
	attempt   uint64
}

// NewMemoryBroker returns a broker that gives up on a message after
// maxDeliver deliveries. maxDeliver <= 0 means unlimited.
func NewMemoryBroker(maxDeliver int) *MemoryBroker {
	b := &MemoryBroker{
		queues:     make(map[string]*memQueue),
		maxDeliver: maxDeliver,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) DeclareDurable(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = &memQueue{seen: make(map[string]struct{})}
	}
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := applyPublishOptions(opts)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return ErrQueueNotDeclared
	}
	if o.messageID != "" {
		if _, dup := q.seen[o.messageID]; dup {
			q.stats.Duplicates++
			return nil
		}
		q.seen[o.messageID] = struct{}{}
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	q.pending = append(q.pending, memMessage{data: payload, messageID: o.messageID, attempt: 1})
	q.stats.Pending++
	b.cond.Broadcast()
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, queue string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, ErrQueueNotDeclared
	}

	sub := &memSubscription{broker: b, done: make(chan struct{})}
	go sub.loop(ctx, queue, q, handler)
	return sub, nil
}

// Stats returns the counters of queue; zero if it was never declared.
func (b *MemoryBroker) Stats(queue string) QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		return q.stats
	}
	return QueueStats{}
}

// DeadLetters returns copies of the payloads removed without processing.
func (b *MemoryBroker) DeadLetters(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close rejects further publishes and ends every subscription loop once its
// in-flight handler returns.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

type memSubscription struct {
	broker  *MemoryBroker
	stopped bool // guarded by broker.mu
	once    sync.Once
	done    chan struct{}
}

func (s *memSubscription) loop(ctx context.Context, queue string, q *memQueue, handler Handler) {
	defer close(s.done)
	b := s.broker

	for {
		b.mu.Lock()
		for len(q.pending) == 0 && !s.stopped && !b.closed {
			b.cond.Wait()
		}
		if s.stopped || b.closed {
			b.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		q.stats.Pending--
		q.stats.InFlight++
		b.mu.Unlock()

		d, settled := b.delivery(queue, q, msg)
		handler(ctx, d)

		// A handler that returns without settling behaves like an expired
		// ack deadline: the message goes back on the queue.
		if !settled() {
			_ = d.Nak(0)
		}
	}
}

func (s *memSubscription) Stop() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		s.stopped = true
		s.broker.cond.Broadcast()
		s.broker.mu.Unlock()
	})
	<-s.done
}

func (b *MemoryBroker) delivery(queue string, q *memQueue, msg memMessage) (Delivery, func() bool) {
	var (
		mu   sync.Mutex
		done bool
	)
	settle := func(fn func()) error {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return errAlreadySettled
		}
		done = true

		b.mu.Lock()
		q.stats.InFlight--
		fn()
		b.mu.Unlock()
		return nil
	}

	ack := func() error {
		return settle(func() { q.stats.Acked++ })
	}
	term := func() error {
		return settle(func() {
			q.stats.Terminated++
			q.dead = append(q.dead, msg.data)
		})
	}
	nak := func(delay time.Duration) error {
		return settle(func() {
			if b.maxDeliver > 0 && msg.attempt >= uint64(b.maxDeliver) {
				q.stats.Terminated++
				q.dead = append(q.dead, msg.data)
				return
			}
			next := msg
			next.attempt++
			if delay <= 0 {
				q.pending = append(q.pending, next)
				q.stats.Pending++
				b.cond.Broadcast()
				return
			}
			q.stats.Delayed++
			time.AfterFunc(delay, func() {
				b.mu.Lock()
				defer b.mu.Unlock()
				q.stats.Delayed--
				q.pending = append(q.pending, next)
				q.stats.Pending++
				b.cond.Broadcast()
			})
		})
	}

	d := NewDelivery(queue, msg.data, ack, nak, term)
	d.MessageID = msg.messageID
	d.Attempt = msg.attempt

	settled := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done
	}
	return d, settled
}
