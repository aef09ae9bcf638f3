package position_test

import (
	"EnergyLedger/internal/event"
	"EnergyLedger/internal/observability"
	"EnergyLedger/internal/position"
	"EnergyLedger/internal/testutil"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresProcessor(t *testing.T) (*position.Processor, *position.PostgresStore) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := position.NewPostgresStore(db, observability.NewMetricsWith(prometheus.NewRegistry()), zerolog.Nop())
	return position.NewProcessor(store, zerolog.Nop()), store
}

func TestPostgresProcessEndToEnd(t *testing.T) {
	proc, store := newPostgresProcessor(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, contractEvent(event.ContractTypePurchase, "100", date(2025, 6, 1), date(2025, 9, 1)))
	require.NoError(t, err)
	_, err = proc.Process(ctx, contractEvent(event.ContractTypeSale, "30", date(2025, 6, 1), date(2025, 7, 1)))
	require.NoError(t, err)

	requirePosition(t, store, 2025, time.June, "100", "30", "70")
	requirePosition(t, store, 2025, time.July, "100", "0", "100")
	requirePosition(t, store, 2025, time.August, "100", "0", "100")

	_, err = store.GetByMonth(ctx, 2025, time.September)
	assert.ErrorIs(t, err, position.ErrPositionNotFound)
}

func TestPostgresRedeliveryIsIdempotent(t *testing.T) {
	proc, store := newPostgresProcessor(t)
	ctx := context.Background()
	evt := contractEvent(event.ContractTypePurchase, "12.3456", date(2025, 1, 1), date(2025, 2, 1))

	_, err := proc.Process(ctx, evt)
	require.NoError(t, err)
	_, err = proc.Process(ctx, evt)
	assert.ErrorIs(t, err, position.ErrDuplicateEvent)

	republished := event.NewContractCreated(uuid.New(), time.Now(), evt.ContractData)
	_, err = proc.Process(ctx, republished)
	assert.ErrorIs(t, err, position.ErrDuplicateEvent)

	requirePosition(t, store, 2025, time.January, "12.3456", "0", "12.3456")
}

func TestPostgresConcurrentFirstTouch(t *testing.T) {
	proc, store := newPostgresProcessor(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		evt := contractEvent(event.ContractTypePurchase, "2", date(2025, 3, 1), date(2025, 6, 1))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := proc.Process(context.Background(), evt)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	requirePosition(t, store, 2025, time.March, "32", "0", "32")
	requirePosition(t, store, 2025, time.April, "32", "0", "32")
	requirePosition(t, store, 2025, time.May, "32", "0", "32")
}
