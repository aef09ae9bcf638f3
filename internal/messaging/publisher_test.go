package messaging_test

import (
	"EnergyLedger/internal/contract"
	"EnergyLedger/internal/event"
	"EnergyLedger/internal/messaging"
	"EnergyLedger/internal/observability"
	"context"
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

// flakyBroker fails the first failures publishes, then delegates.
type flakyBroker struct {
	messaging.Broker
	failures int
	calls    int
}

func (f *flakyBroker) Publish(ctx context.Context, queue string, data []byte, opts ...messaging.PublishOption) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return f.Broker.Publish(ctx, queue, data, opts...)
}

func sampleContract() *contract.Contract {
	return &contract.Contract{
		ID:           uuid.New(),
		Counterparty: "Eletrobras",
		Type:         event.ContractTypePurchase,
		VolumeMwm:    decimal.NewFromInt(100),
		Price:        decimal.RequireFromString("180.00"),
		StartDate:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:    time.Now().UTC(),
		Status:       contract.StatusActive,
	}
}

func fastRetry(attempts int) messaging.PublisherConfig {
	return messaging.PublisherConfig{
		Queue:       messaging.DefaultQueue,
		MaxAttempts: attempts,
		Backoff:     time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	}
}

func drainOne(t *testing.T, b *messaging.MemoryBroker) []byte {
	t.Helper()
	got := make(chan []byte, 1)
	sub, err := b.Subscribe(context.Background(), messaging.DefaultQueue, func(_ context.Context, d messaging.Delivery) {
		_ = d.Ack()
		got <- d.Data
	})
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case data := <-got:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
		return nil
	}
}

func TestPublishContractCreated(t *testing.T) {
	b := messaging.NewMemoryBroker(0)
	defer b.Close()
	require.NoError(t, b.DeclareDurable(context.Background(), messaging.DefaultQueue))

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	pub := messaging.NewContractPublisher(b, fastRetry(3), metrics, zerolog.Nop())

	c := sampleContract()
	eventID, err := pub.PublishContractCreated(context.Background(), c)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, eventID)

	evt, err := event.DecodeContractCreated(drainOne(t, b))
	require.NoError(t, err)
	assert.Equal(t, eventID, evt.EventID)
	assert.Equal(t, c.ID, evt.ContractData.ContractID)
	assert.Equal(t, c.Type, evt.ContractData.Type)
	assert.True(t, c.VolumeMwm.Equal(evt.ContractData.VolumeMwm))
	assert.True(t, c.Price.Equal(evt.ContractData.Price))
	assert.True(t, c.StartDate.Equal(evt.ContractData.StartDate))
	assert.True(t, c.EndDate.Equal(evt.ContractData.EndDate))
	assert.WithinDuration(t, time.Now(), evt.Timestamp, time.Minute)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.EventsPublished))
}

func TestPublishUsesFreshEventIDs(t *testing.T) {
	b := messaging.NewMemoryBroker(0)
	defer b.Close()
	require.NoError(t, b.DeclareDurable(context.Background(), messaging.DefaultQueue))

	pub := messaging.NewContractPublisher(b, fastRetry(1), nil, zerolog.Nop())
	c := sampleContract()

	first, err := pub.PublishContractCreated(context.Background(), c)
	require.NoError(t, err)
	second, err := pub.PublishContractCreated(context.Background(), c)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, b.Stats(messaging.DefaultQueue).Pending)
}

func TestPublishRetriesTransientErrors(t *testing.T) {
	mem := messaging.NewMemoryBroker(0)
	defer mem.Close()
	require.NoError(t, mem.DeclareDurable(context.Background(), messaging.DefaultQueue))

	flaky := &flakyBroker{Broker: mem, failures: 2}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	pub := messaging.NewContractPublisher(flaky, fastRetry(3), metrics, zerolog.Nop())

	_, err := pub.PublishContractCreated(context.Background(), sampleContract())
	require.NoError(t, err)

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishRetries))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.PublishFailures))
	assert.Equal(t, 1, mem.Stats(messaging.DefaultQueue).Pending)
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	mem := messaging.NewMemoryBroker(0)
	defer mem.Close()
	require.NoError(t, mem.DeclareDurable(context.Background(), messaging.DefaultQueue))

	flaky := &flakyBroker{Broker: mem, failures: 100}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	pub := messaging.NewContractPublisher(flaky, fastRetry(3), metrics, zerolog.Nop())

	c := sampleContract()
	_, err := pub.PublishContractCreated(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, messaging.ErrPublishFailed)
	assert.Contains(t, err.Error(), c.ID.String())

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishFailures))
	assert.Equal(t, 0, mem.Stats(messaging.DefaultQueue).Pending)
}

func TestPublishDoesNotRetryUndeclaredQueue(t *testing.T) {
	mem := messaging.NewMemoryBroker(0)
	defer mem.Close()

	pub := messaging.NewContractPublisher(mem, fastRetry(5), nil, zerolog.Nop())
	_, err := pub.PublishContractCreated(context.Background(), sampleContract())

	assert.ErrorIs(t, err, messaging.ErrPublishFailed)
	assert.ErrorIs(t, err, messaging.ErrQueueNotDeclared)
}

func TestPublishStopsOnContextCancel(t *testing.T) {
	mem := messaging.NewMemoryBroker(0)
	defer mem.Close()
	require.NoError(t, mem.DeclareDurable(context.Background(), messaging.DefaultQueue))

	flaky := &flakyBroker{Broker: mem, failures: 100}
	cfg := fastRetry(10)
	cfg.Backoff = time.Hour
	pub := messaging.NewContractPublisher(flaky, cfg, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pub.PublishContractCreated(ctx, sampleContract())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, flaky.calls)
}

func TestContractPublisherSatisfiesServicePort(t *testing.T) {
	var _ contract.EventPublisher = (*messaging.ContractPublisher)(nil)
}
