package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the exchange.
type Metrics struct {
	// --- Engine ---
	EngineOpsApplied  *prometheus.CounterVec
	EngineOpsRejected *prometheus.CounterVec
	EngineOpDuration  *prometheus.HistogramVec
	EngineEntries     *prometheus.CounterVec
	EngineSequence    prometheus.Gauge
	OpenOrders        prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ReplayRecordsTotal  prometheus.Counter
	ReplayDuration      prometheus.Gauge

	// --- Publishing ---
	RecordsPublished *prometheus.CounterVec
	PublishErrors    prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// --- Query ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		EngineOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		EngineOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_ops_rejected_total",
			Help: "Operations rejected (validation, balance, auth, reentry)",
		}, []string{"op", "reason"}),

		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_engine_op_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_engine_entries_generated_total",
			Help: "Ledger entries generated",
		}, []string{"kind"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_engine_sequence",
			Help: "Current global record sequence",
		}),

		OpenOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_open_orders",
			Help: "Orders neither cancelled nor filled",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_idempotency_duplicates_total",
			Help: "Duplicate requests caught (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Persistence
		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_records_written_total",
			Help: "Audit records written to Postgres",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_entries_written_total",
			Help: "Ledger entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_size",
			Help:    "Records per write batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projection
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ReplayRecordsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_replay_records_total",
			Help: "Records replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Publishing
		RecordsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_records_published_total",
			Help: "Records published to the event stream",
		}, []string{"kind"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_errors_total",
			Help: "Event stream publish failures",
		}),

		// HTTP API
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		// Query
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
