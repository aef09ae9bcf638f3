package messaging

import (
	"EnergyLedger/internal/contract"
	"EnergyLedger/internal/event"
	"EnergyLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrPublishFailed = errors.New("publish failed")

// PublisherConfig bounds the publisher's retry loop.
type PublisherConfig struct {
	Queue       string
	MaxAttempts int           // total tries including the first
	Backoff     time.Duration // wait before the first retry, doubled after each
	MaxBackoff  time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Queue:       DefaultQueue,
		MaxAttempts: 4,
		Backoff:     100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// ContractPublisher turns committed contracts into ContractCreated events on
// the position queue.
type ContractPublisher struct {
	broker  Broker
	cfg     PublisherConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewContractPublisher(broker Broker, cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *ContractPublisher {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &ContractPublisher{
		broker:  broker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// PublishContractCreated builds a new event for c and publishes it. Each call
// gets a fresh event id; the broker message id is the event id, so retries
// inside one call are collapsed by the broker.
func (p *ContractPublisher) PublishContractCreated(ctx context.Context, c *contract.Contract) (uuid.UUID, error) {
	evt := event.NewContractCreated(p.newID(), p.now(), c.Snapshot())

	data, err := event.EncodeContractCreated(evt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode event for contract %s: %w", c.ID, err)
	}

	if err := p.publishWithRetry(ctx, data, evt.IdempotencyKey()); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		return uuid.Nil, fmt.Errorf("%w: contract %s: %w", ErrPublishFailed, c.ID, err)
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.Inc()
	}
	p.logger.Debug().
		Str("event_id", evt.EventID.String()).
		Str("contract_id", c.ID.String()).
		Str("queue", p.cfg.Queue).
		Msg("ContractCreated published")

	return evt.EventID, nil
}

// publishWithRetry retries with exponential backoff up to MaxAttempts and
// gives up early if ctx ends.
func (p *ContractPublisher) publishWithRetry(ctx context.Context, data []byte, messageID string) error {
	backoff := p.cfg.Backoff
	var err error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if p.metrics != nil {
				p.metrics.PublishRetries.Inc()
			}
			p.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Str("message_id", messageID).
				Msg("retrying publish")

			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.cfg.MaxBackoff > 0 && backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
		}

		err = p.broker.Publish(ctx, p.cfg.Queue, data, WithMessageID(messageID))
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrQueueNotDeclared) || errors.Is(err, ErrBrokerClosed) {
			return err
		}
	}

	return fmt.Errorf("after %d attempts: %w", p.cfg.MaxAttempts, err)
}
