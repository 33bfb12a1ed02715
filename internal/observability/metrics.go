package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the portfolio ledger.
type Metrics struct {
	// --- Engine operations ---
	EngineOps         *prometheus.CounterVec
	EngineOpRejected  *prometheus.CounterVec
	EngineOpDuration  *prometheus.HistogramVec
	PortfolioValue    prometheus.Gauge
	CashBalance       prometheus.Gauge
	OpenPositions     prometheus.Gauge
	HeldAssets        prometheus.Gauge
	TradesRecorded    prometheus.Counter
	PositionsClosed   prometheus.Counter
	SnapshotsTaken    prometheus.Counter
	SnapshotsPruned   prometheus.Counter
	SnapshotRejected  prometheus.Counter
	MetricsCalculated prometheus.Counter

	// --- Price ingestion ---
	TicksReceived  prometheus.Counter
	TicksRejected  *prometheus.CounterVec
	SymbolsUpdated prometheus.Counter

	// --- Persistence ---
	FlushWrites       prometheus.Counter
	FlushErrors       *prometheus.CounterVec
	FlushRetries      prometheus.Counter
	FlushDuration     prometheus.Histogram
	FlushPendingDocs  prometheus.Gauge
	LoadCorruptedDocs *prometheus.CounterVec

	// --- Import/export ---
	ExportsServed  prometheus.Counter
	ImportsApplied prometheus.Counter
	ImportsFailed  prometheus.Counter
}

// NewMetrics registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EngineOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_engine_ops_total",
			Help: "Total engine operations executed, by operation name.",
		}, []string{"op"}),

		EngineOpRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_engine_ops_rejected_total",
			Help: "Operations rejected by validation, by operation and reason.",
		}, []string{"op", "reason"}),

		EngineOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_engine_op_duration_seconds",
			Help:    "Duration of engine operations.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}, []string{"op"}),

		PortfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_total_value",
			Help: "Live total portfolio value in base currency.",
		}),

		CashBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_cash_balance",
			Help: "Current cash balance in base currency.",
		}),

		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_open_positions",
			Help: "Number of open leveraged positions.",
		}),

		HeldAssets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_held_assets",
			Help: "Number of spot holdings.",
		}),

		TradesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_trades_recorded_total",
			Help: "Trade records appended to the journal.",
		}),

		PositionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_positions_closed_total",
			Help: "Leveraged positions closed.",
		}),

		SnapshotsTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_snapshots_taken_total",
			Help: "Value snapshots appended to the store.",
		}),

		SnapshotsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_snapshots_pruned_total",
			Help: "Snapshots pruned past the retention window.",
		}),

		SnapshotRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_snapshots_rejected_total",
			Help: "Snapshots rejected for non-ascending timestamps.",
		}),

		MetricsCalculated: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_risk_calculations_total",
			Help: "Risk metric calculations served.",
		}),

		TicksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_ticks_received_total",
			Help: "Price tick batches received from the tick source.",
		}),

		TicksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_ticks_rejected_total",
			Help: "Price tick batches rejected, by reason.",
		}, []string{"reason"}),

		SymbolsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_symbols_updated_total",
			Help: "Individual symbol price updates applied.",
		}),

		FlushWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_flush_writes_total",
			Help: "Documents written by the persistence flush worker.",
		}),

		FlushErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_flush_errors_total",
			Help: "Failed document flushes, by store key.",
		}, []string{"key"}),

		FlushRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_flush_retries_total",
			Help: "Flush attempts for documents that previously failed.",
		}),

		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_flush_duration_seconds",
			Help:    "Duration of flush batches.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		FlushPendingDocs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_flush_pending_docs",
			Help: "Documents waiting to be flushed (including retries).",
		}),

		LoadCorruptedDocs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_load_corrupted_docs_total",
			Help: "Stored documents that failed to parse at load time, by store key.",
		}, []string{"key"}),

		ExportsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_exports_total",
			Help: "Full-state exports served.",
		}),

		ImportsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_imports_applied_total",
			Help: "Full-state imports applied.",
		}),

		ImportsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_imports_failed_total",
			Help: "Full-state imports rejected by validation.",
		}),
	}
}

// NewTestMetrics returns metrics bound to a throwaway registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
