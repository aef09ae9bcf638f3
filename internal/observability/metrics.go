package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer outcomes used as the "outcome" label of ConsumerEvents.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Metrics holds all Prometheus metrics for the contract and position services.
type Metrics struct {
	// --- Contracts ---
	ContractsCreated prometheus.Counter

	// --- Publisher ---
	EventsPublished prometheus.Counter
	PublishRetries  prometheus.Counter
	PublishFailures prometheus.Counter

	// --- Consumer ---
	ConsumerEvents          *prometheus.CounterVec
	ConsumerProcessDuration prometheus.Histogram
	ConsumerBucketsTouched  prometheus.Counter
	ConsumerInFlight        prometheus.Gauge

	// --- Position store ---
	PositionCreateConflicts prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry()
// so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	processBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
		0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		ContractsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_contracts_created_total",
			Help: "Contracts committed to the contract store",
		}),

		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_contract_events_published_total",
			Help: "ContractCreated events accepted by the broker",
		}),
		PublishRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_contract_publish_retries_total",
			Help: "Publish attempts retried after a broker error",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_contract_publish_failures_total",
			Help: "Contracts committed whose event could not be published; positions will miss them until republished",
		}),

		ConsumerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "energy_consumer_events_total",
			Help: "Consumed events by outcome",
		}, []string{"outcome"}),
		ConsumerProcessDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "energy_consumer_process_duration_seconds",
			Help:    "Time from delivery to acknowledgment",
			Buckets: processBuckets,
		}),
		ConsumerBucketsTouched: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_consumer_month_buckets_updated_total",
			Help: "Monthly buckets updated by consolidation",
		}),
		ConsumerInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "energy_consumer_in_flight",
			Help: "Worker loops currently processing a message",
		}),

		PositionCreateConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "energy_position_create_conflicts_total",
			Help: "Concurrent first-creates of a month resolved as updates",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "energy_query_requests_total",
			Help: "Query API requests",
		}, []string{"operation", "status"}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "energy_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
