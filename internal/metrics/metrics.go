package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts PlaceOrder calls by side and outcome (accepted/rejected)
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_orders_processed_total",
		Help: "Total number of orders processed by the matching engine",
	},
	[]string{"side", "result"},
)

// OrderLatency records time spent inside PlaceOrder
var OrderLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "exchange_order_processing_latency_seconds",
		Help:    "Latency in seconds to validate and match individual orders",
		Buckets: prometheus.DefBuckets,
	},
)

var (
	TradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Number of trades executed",
		},
		[]string{"symbol"},
	)

	TradedVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_traded_notional_total",
			Help: "Quote notional traded",
		},
		[]string{"symbol"},
	)

	ActiveOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exchange_active_orders",
			Help: "Resting and trigger-pending orders per symbol",
		},
		[]string{"symbol"},
	)

	HaltedSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exchange_halted_symbols",
			Help: "Number of symbols under a circuit breaker",
		},
	)

	ExpiredOrders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_expired_orders_total",
			Help: "Orders cancelled by the expiry sweep",
		},
	)
)

// Signals counts strategy signals by strategy and outcome (queued/rejected/executed/failed/dropped)
var Signals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_strategy_signals_total",
		Help: "Strategy signals by outcome",
	},
	[]string{"strategy", "outcome"},
)

var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "exchange_execution_queue_depth",
		Help: "Signals waiting in the execution queue",
	},
)

var RateLimited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "exchange_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	},
)

// PersistBatches counts repository transactions by outcome (committed/failed)
var PersistBatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exchange_persist_batches_total",
		Help: "Repository transactions written after matching",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrderLatency)
	prometheus.MustRegister(TradesExecuted, TradedVolume, ActiveOrders, HaltedSymbols, ExpiredOrders)
	prometheus.MustRegister(Signals, QueueDepth, RateLimited, PersistBatches)
}
