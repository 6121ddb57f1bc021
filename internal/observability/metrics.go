package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"PrizePool/internal/pool"
)

// Metrics holds all Prometheus metrics for PrizePool.
type Metrics struct {
	// --- Engine ---
	OpsApplied         *prometheus.CounterVec
	OpsRejected        *prometheus.CounterVec
	OpDuration         *prometheus.HistogramVec
	TransferFailures   *prometheus.CounterVec
	EngineSequence     prometheus.Gauge
	PoolAvailable      prometheus.Gauge
	PoolReserved       prometheus.Gauge
	ActiveReservations prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	DuplicateRequests *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot & Recovery ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_ops_applied_total",
			Help: "Operations successfully committed",
		}, []string{"op_type"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_ops_rejected_total",
			Help: "Operations rejected before commit",
		}, []string{"op_type", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_op_duration_seconds",
			Help:    "Time to execute a single operation",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		TransferFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_transfer_failures_total",
			Help: "Token gateway transfers that failed and rolled back",
		}, []string{"op_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_engine_sequence",
			Help: "Next sequence the engine will assign",
		}),

		PoolAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_available_balance",
			Help: "Unreserved pool balance in base units",
		}),

		PoolReserved: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_reserved_balance",
			Help: "Total reserved balance in base units",
		}),

		ActiveReservations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_active_reservations",
			Help: "Number of active reservations",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_publish_drops_total",
			Help: "Notifications dropped due to full publish channel",
		}),

		// Idempotency
		DuplicateRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_duplicate_requests_total",
			Help: "Duplicate requests caught (lru/postgres)",
		}, []string{"op_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot & Recovery
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pool_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pool_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
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

// RejectReason maps an operation error to a stable metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, pool.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, pool.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, pool.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, pool.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, pool.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, pool.ErrGameAlreadyReserved):
		return "game_already_reserved"
	case errors.Is(err, pool.ErrReservationNotFound):
		return "reservation_not_found"
	case errors.Is(err, pool.ErrPayoutExceedsReservation):
		return "payout_exceeds_reservation"
	case errors.Is(err, pool.ErrOverflow):
		return "overflow"
	default:
		return "other"
	}
}
