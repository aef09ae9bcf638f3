package query_test

import (
	"EnergyLedger/internal/consolidation"
	"EnergyLedger/internal/observability"
	"EnergyLedger/internal/position"
	"EnergyLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *position.MemoryStore, year int, month time.Month, bought, sold string) {
	t.Helper()
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	ok, err := uow.MarkProcessed(ctx, uuid.New(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)

	p, err := uow.GetOrCreate(ctx, year, month)
	require.NoError(t, err)
	p.Apply(consolidation.ChannelPurchased, decimal.RequireFromString(bought))
	p.Apply(consolidation.ChannelSold, decimal.RequireFromString(sold))
	require.NoError(t, uow.Commit(ctx))
}

func TestGetByMonthRecomputesNet(t *testing.T) {
	store := position.NewMemoryStore(nil)
	seed(t, store, 2025, time.March, "50", "30")

	svc := query.NewService(store, nil, zerolog.Nop())
	got, err := svc.GetByMonth(context.Background(), 2025, 3)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, 2025, got.Year)
	assert.Equal(t, 3, got.Month)
	assert.True(t, got.TotalVolumePurchased.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.TotalVolumeSold.Equal(decimal.NewFromInt(30)))
	assert.True(t, got.NetPosition.Equal(decimal.NewFromInt(20)))
}

func TestGetByMonthShortPosition(t *testing.T) {
	store := position.NewMemoryStore(nil)
	seed(t, store, 2026, time.January, "10.5", "40")

	got, err := query.NewService(store, nil, zerolog.Nop()).GetByMonth(context.Background(), 2026, 1)
	require.NoError(t, err)
	assert.Equal(t, "-29.5", got.NetPosition.String())
}

func TestGetByMonthAbsentIsNotCreated(t *testing.T) {
	store := position.NewMemoryStore(nil)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	svc := query.NewService(store, metrics, zerolog.Nop())

	_, err := svc.GetByMonth(context.Background(), 2025, 9)
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
	assert.Equal(t, 0, store.Len(), "queries are read-only")
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("get_position", "not_found")))
}

func TestGetByMonthRejectsInvalidMonth(t *testing.T) {
	svc := query.NewService(position.NewMemoryStore(nil), nil, zerolog.Nop())

	for _, tc := range []struct{ year, month int }{{2025, 0}, {2025, 13}, {2025, -1}, {0, 5}, {10000, 1}} {
		_, err := svc.GetByMonth(context.Background(), tc.year, tc.month)
		assert.ErrorIs(t, err, query.ErrInvalidMonth, "%d/%d", tc.year, tc.month)
	}
}

type brokenReader struct{}

func (brokenReader) GetByMonth(context.Context, int, time.Month) (*position.MonthlyPosition, error) {
	return nil, errors.New("connection reset")
}

func TestGetByMonthCountsStoreErrors(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	svc := query.NewService(brokenReader{}, metrics, zerolog.Nop())

	_, err := svc.GetByMonth(context.Background(), 2025, 1)
	require.Error(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("get_position", "error")))
}

func TestPositionSummaryJSON(t *testing.T) {
	s := query.PositionSummary{
		ID:                   uuid.MustParse("770e8400-e29b-41d4-a716-446655440002"),
		Year:                 2025,
		Month:                6,
		TotalVolumePurchased: decimal.RequireFromString("100.25"),
		TotalVolumeSold:      decimal.Zero,
		NetPosition:          decimal.RequireFromString("100.25"),
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Id": "770e8400-e29b-41d4-a716-446655440002",
		"Year": 2025,
		"Month": 6,
		"TotalVolumePurchased": 100.25,
		"TotalVolumeSold": 0,
		"NetPosition": 100.25
	}`, string(data))
}
