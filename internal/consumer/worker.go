// Package consumer drains the position queue: each worker takes one
// ContractCreated delivery at a time, consolidates it and acknowledges it
// only after the store commit.
package consumer

import (
	"EnergyLedger/internal/event"
	"EnergyLedger/internal/messaging"
	"EnergyLedger/internal/observability"
	"EnergyLedger/internal/position"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State of a worker loop.
type State int32

const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// EventProcessor consolidates one event and reports how many monthly
// buckets it updated.
type EventProcessor interface {
	Process(ctx context.Context, evt event.ContractCreated) (int, error)
}

// Config controls the worker loops.
type Config struct {
	Queue          string
	Workers        int
	NakDelay       time.Duration // redelivery delay after a processing error
	ProcessTimeout time.Duration // upper bound for one unit of work
}

func DefaultConfig() Config {
	return Config{
		Queue:          messaging.DefaultQueue,
		Workers:        4,
		NakDelay:       2 * time.Second,
		ProcessTimeout: 30 * time.Second,
	}
}

// Worker is one single-flight delivery loop.
type Worker struct {
	id        int
	broker    messaging.Broker
	processor EventProcessor
	cfg       Config
	metrics   *observability.Metrics
	logger    zerolog.Logger
	state     atomic.Int32
}

func NewWorker(id int, broker messaging.Broker, processor EventProcessor, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		id:        id,
		broker:    broker,
		processor: processor,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Int("worker", id).Logger(),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run subscribes and blocks until ctx ends. On return no delivery is in
// flight: the last one has been committed and settled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.broker.Subscribe(ctx, w.cfg.Queue, w.handle)
	if err != nil {
		return fmt.Errorf("worker %d subscribe %s: %w", w.id, w.cfg.Queue, err)
	}
	w.logger.Info().Str("queue", w.cfg.Queue).Msg("worker started")

	<-ctx.Done()
	sub.Stop()

	w.logger.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, d messaging.Delivery) {
	w.state.Store(int32(StateProcessing))
	defer w.state.Store(int32(StateIdle))

	if w.metrics != nil {
		w.metrics.ConsumerInFlight.Inc()
		defer w.metrics.ConsumerInFlight.Dec()
		start := time.Now()
		defer func() { w.metrics.ConsumerProcessDuration.Observe(time.Since(start).Seconds()) }()
	}

	evt, err := event.DecodeContractCreated(d.Data)
	if err != nil {
		w.logger.Error().
			Err(err).
			Str("payload", string(d.Data)).
			Str("message_id", d.MessageID).
			Msg("dropping undecodable message")
		w.settle(d.Term, "term", d.MessageID)
		w.count(observability.OutcomeMalformed)
		return
	}

	// Shutdown must not abort a unit of work halfway: once a delivery is
	// taken it is committed and acknowledged.
	workCtx := context.WithoutCancel(ctx)
	if w.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(workCtx, w.cfg.ProcessTimeout)
		defer cancel()
	}

	log := w.logger.With().
		Str("event_id", evt.EventID.String()).
		Str("contract_id", evt.ContractData.ContractID.String()).
		Uint64("attempt", d.Attempt).
		Logger()

	buckets, err := w.processor.Process(workCtx, evt)
	switch {
	case err == nil:
		w.settle(d.Ack, "ack", d.MessageID)
		w.count(observability.OutcomeApplied)
		if w.metrics != nil {
			w.metrics.ConsumerBucketsTouched.Add(float64(buckets))
		}
		log.Info().Int("months", buckets).Msg("contract consolidated")

	case errors.Is(err, position.ErrDuplicateEvent):
		w.settle(d.Ack, "ack", d.MessageID)
		w.count(observability.OutcomeDuplicate)
		log.Info().Msg("contract already consolidated, skipping")

	default:
		log.Error().Err(err).Dur("retry_in", w.cfg.NakDelay).Msg("consolidation failed")
		w.settle(func() error { return d.Nak(w.cfg.NakDelay) }, "nak", d.MessageID)
		w.count(observability.OutcomeFailed)
	}
}

// settle runs an acknowledgment. A failed ack means the broker will
// redeliver; the dedup ledger turns that into a no-op.
func (w *Worker) settle(fn func() error, op, messageID string) {
	if err := fn(); err != nil {
		w.logger.Warn().Err(err).Str("op", op).Str("message_id", messageID).Msg("acknowledgment failed")
	}
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.ConsumerEvents.WithLabelValues(outcome).Inc()
	}
}
