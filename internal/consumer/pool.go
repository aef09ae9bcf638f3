package consumer

import (
	"EnergyLedger/internal/messaging"
	"EnergyLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pool runs Config.Workers independent workers on the same queue. The
// broker spreads deliveries across them.
type Pool struct {
	workers []*Worker
	logger  zerolog.Logger
}

func NewPool(broker messaging.Broker, processor EventProcessor, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Pool {
	n := cfg.Workers
	if n < 1 {
		n = 1
	}
	p := &Pool{logger: logger}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(i, broker, processor, cfg, metrics, logger))
	}
	return p
}

// Run blocks until ctx ends and every worker has drained, or until one
// worker fails to start, in which case the others are stopped.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	p.logger.Info().Int("workers", len(p.workers)).Msg("consumer pool running")
	return g.Wait()
}

// Busy reports how many workers are processing a delivery right now.
func (p *Pool) Busy() int {
	n := 0
	for _, w := range p.workers {
		if w.State() == StateProcessing {
			n++
		}
	}
	return n
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
