package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSConfig tunes the JetStream stream and durable consumer behind a queue.
type NATSConfig struct {
	AckWait     time.Duration // redelivery if neither acked nor nacked in time
	MaxDeliver  int           // deliveries before JetStream gives up on a message
	MaxAge      time.Duration // retention of unconsumed messages
	DedupWindow time.Duration // window for Nats-Msg-Id duplicate suppression
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		AckWait:     30 * time.Second,
		MaxDeliver:  10,
		MaxAge:      7 * 24 * time.Hour,
		DedupWindow: 2 * time.Minute,
	}
}

// NATSBroker implements Broker on JetStream. Each queue is a file-backed
// work-queue stream whose only subject is the queue name, consumed through
// one shared durable pull consumer with explicit acks.
type NATSBroker struct {
	js     jetstream.JetStream
	cfg    NATSConfig
	logger zerolog.Logger
}

func NewNATSBroker(js jetstream.JetStream, cfg NATSConfig, logger zerolog.Logger) *NATSBroker {
	return &NATSBroker{js: js, cfg: cfg, logger: logger}
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
// The connection reconnects forever; the initial connect does not retry.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// DeclareDurable creates or updates the stream and its durable consumer to
// match this broker's config. Only the consuming process should call it; it
// owns redelivery settings.
func (b *NATSBroker) DeclareDurable(ctx context.Context, queue string) error {
	stream := streamName(queue)
	if _, err := b.js.CreateOrUpdateStream(ctx, b.streamConfig(queue)); err != nil {
		return fmt.Errorf("create stream %s: %w", stream, err)
	}

	if _, err := b.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       consumerName(queue),
		FilterSubject: queue,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}); err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName(queue), err)
	}

	b.logger.Info().Str("queue", queue).Str("stream", stream).Msg("ensured durable queue")
	return nil
}

// DeclareStream makes sure the queue's stream exists so publishes land. An
// existing stream is left as configured and the consumer is never touched.
func (b *NATSBroker) DeclareStream(ctx context.Context, queue string) error {
	stream := streamName(queue)
	_, err := b.js.Stream(ctx, stream)
	switch {
	case err == nil:
		b.logger.Info().Str("queue", queue).Str("stream", stream).Msg("stream already declared")
		return nil
	case !errors.Is(err, jetstream.ErrStreamNotFound):
		return fmt.Errorf("lookup stream %s: %w", stream, err)
	}

	if _, err := b.js.CreateStream(ctx, b.streamConfig(queue)); err != nil && !errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("create stream %s: %w", stream, err)
	}
	b.logger.Info().Str("queue", queue).Str("stream", stream).Msg("created stream")
	return nil
}

func (b *NATSBroker) streamConfig(queue string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       streamName(queue),
		Subjects:   []string{queue},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     b.cfg.MaxAge,
		Duplicates: b.cfg.DedupWindow,
		Replicas:   1,
	}
}

func (b *NATSBroker) Publish(ctx context.Context, queue string, data []byte, opts ...PublishOption) error {
	o := applyPublishOptions(opts)

	var pubOpts []jetstream.PublishOpt
	if o.messageID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(o.messageID))
	}

	ack, err := b.js.Publish(ctx, queue, data, pubOpts...)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoStreamResponse) {
			return fmt.Errorf("%w: %s: %v", ErrQueueNotDeclared, queue, err)
		}
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	if ack.Duplicate {
		b.logger.Info().Str("queue", queue).Str("message_id", o.messageID).Msg("broker dropped duplicate publish")
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, queue string, handler Handler) (Subscription, error) {
	consumer, err := b.js.Consumer(ctx, streamName(queue), consumerName(queue))
	if err != nil {
		return nil, fmt.Errorf("lookup consumer %s: %w", consumerName(queue), err)
	}

	// One message buffered per loop keeps the loop single-flight and leaves
	// the rest of the queue to other workers.
	iter, err := consumer.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	sub := &natsSubscription{
		iter: iter,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go sub.loop(ctx, queue, handler, b.logger)
	return sub, nil
}

type natsSubscription struct {
	iter jetstream.MessagesContext
	done chan struct{}
	stop chan struct{}
}

func (s *natsSubscription) loop(ctx context.Context, queue string, handler Handler, logger zerolog.Logger) {
	defer close(s.done)

	for {
		msg, err := s.iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return
			}
			logger.Warn().Err(err).Str("queue", queue).Msg("next message")
			select {
			case <-s.stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		handler(ctx, natsDelivery(queue, msg))
	}
}

func (s *natsSubscription) Stop() {
	close(s.stop)
	s.iter.Stop()
	<-s.done
}

func natsDelivery(queue string, msg jetstream.Msg) Delivery {
	d := NewDelivery(queue, msg.Data(),
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return msg.DoubleAck(ctx)
		},
		msg.NakWithDelay,
		msg.Term,
	)
	if h := msg.Headers(); h != nil {
		d.MessageID = h.Get(nats.MsgIdHdr)
	}
	if meta, err := msg.Metadata(); err == nil {
		d.Attempt = meta.NumDelivered
		d.Received = meta.Timestamp
	}
	return d
}

// streamName derives a JetStream stream name, which may not contain '.',
// '*', '>' or whitespace, from a queue name.
func streamName(queue string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.ToUpper(queue))
}

func consumerName(queue string) string {
	return streamName(queue) + "_CONSOLIDATOR"
}
