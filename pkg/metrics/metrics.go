package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_orders_placed_total",
		Help: "Resting orders placed, by side.",
	}, []string{"side"})

	Fills = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clob_fills_total",
		Help: "Order/amount pairs executed by FillOrders.",
	})

	TradedVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clob_traded_volume_micro_total",
		Help: "Gross collateral cost of fills in 6-decimal units.",
	})

	FeesCollected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_fees_collected_micro_total",
		Help: "Fees collected in 6-decimal units, by sink.",
	}, []string{"sink"})

	OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clob_orders_cancelled_total",
		Help: "Orders cancelled after market resolution.",
	})

	EscrowRefunded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_escrow_refunded_total",
		Help: "Escrow returned to makers, by asset kind.",
	}, []string{"asset"})

	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_rejections_total",
		Help: "Engine calls rejected, by operation.",
	}, []string{"op"})

	LedgerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clob_ledger_failures_total",
		Help: "External ledger reports that failed, by call.",
	}, []string{"call"})

	LedgerDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clob_ledger_dropped_total",
		Help: "Fill projections dropped because the dispatch queue was full.",
	})

	EngineLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clob_engine_call_seconds",
		Help:    "Engine call latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{"op"})
)

var once sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			OrdersPlaced,
			Fills,
			TradedVolume,
			FeesCollected,
			OrdersCancelled,
			EscrowRefunded,
			Rejections,
			LedgerFailures,
			LedgerDropped,
			EngineLatency,
		)
	})
}
