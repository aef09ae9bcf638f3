package position

import (
	"context"
	"fmt"

	"EnergyLedger/internal/consolidation"
	"EnergyLedger/internal/event"

	"github.com/rs/zerolog"
)

// Processor applies ContractCreated events to the aggregate store. One event
// is one unit of work: every month it touches is committed together or not
// at all.
type Processor struct {
	store  Store
	logger zerolog.Logger
}

func NewProcessor(store Store, logger zerolog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Process consolidates evt and returns the number of monthly buckets it
// updated. A redelivered event, or a second creation event for a contract
// already consolidated, returns ErrDuplicateEvent and leaves the store as is.
func (p *Processor) Process(ctx context.Context, evt event.ContractCreated) (int, error) {
	uow, err := p.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer uow.Rollback()

	data := evt.ContractData
	fresh, err := uow.MarkProcessed(ctx, evt.EventID, data.ContractID)
	if err != nil {
		return 0, err
	}
	if !fresh {
		return 0, ErrDuplicateEvent
	}

	deltas := consolidation.Expand(data.Type, data.VolumeMwm, data.StartDate, data.EndDate)
	if len(deltas) == 0 {
		p.logger.Warn().
			Str("event_id", evt.EventID.String()).
			Str("contract_id", data.ContractID.String()).
			Time("start_date", data.StartDate).
			Time("end_date", data.EndDate).
			Msg("contract covers no month, nothing to consolidate")
	}

	for _, d := range deltas {
		pos, err := uow.GetOrCreate(ctx, d.Year, d.Month)
		if err != nil {
			return 0, fmt.Errorf("get or create %04d-%02d: %w", d.Year, int(d.Month), err)
		}
		pos.Apply(d.Channel, d.Amount)
	}

	if err := uow.Commit(ctx); err != nil {
		return 0, err
	}
	return len(deltas), nil
}
