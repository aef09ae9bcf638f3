// Package query serves read-only views of the monthly position aggregates.
package query

import (
	"EnergyLedger/internal/observability"
	"EnergyLedger/internal/position"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidMonth = errors.New("invalid year/month")

const opGetPosition = "get_position"

// Service answers position queries. It never creates rows: a month no
// contract covers is reported as position.ErrPositionNotFound.
type Service struct {
	reader  position.Reader
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewService(reader position.Reader, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{reader: reader, metrics: metrics, logger: logger}
}

// GetByMonth returns the consolidated position of a calendar month.
func (s *Service) GetByMonth(ctx context.Context, year, month int) (summary *PositionSummary, err error) {
	start := time.Now()
	defer func() { s.observe(opGetPosition, start, err) }()

	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidMonth, year, month)
	}

	p, err := s.reader.GetByMonth(ctx, year, time.Month(month))
	if err != nil {
		return nil, err
	}
	return summarize(p), nil
}

func summarize(p *position.MonthlyPosition) *PositionSummary {
	return &PositionSummary{
		ID:                   p.ID,
		Year:                 p.Year,
		Month:                int(p.Month),
		TotalVolumePurchased: p.TotalVolumePurchased,
		TotalVolumeSold:      p.TotalVolumeSold,
		NetPosition:          p.NetPosition(),
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidMonth):
		status = "invalid"
	case errors.Is(err, position.ErrPositionNotFound):
		status = "not_found"
	default:
		status = "error"
		s.logger.Error().Err(err).Str("operation", op).Msg("query failed")
	}

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(op, status).Inc()
		s.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
