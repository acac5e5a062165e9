package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ListingsRegistered counts listings registered, labeled by category.
var ListingsRegistered = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "datamarket_listings_registered_total",
		Help: "Total number of dataset listings registered",
	},
	[]string{"category"},
)

// PurchasesSettled counts successfully settled purchases.
var PurchasesSettled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "datamarket_purchases_settled_total",
		Help: "Total number of purchases settled",
	},
)

// PurchasesRejected counts rejected purchase attempts by error kind.
var PurchasesRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "datamarket_purchases_rejected_total",
		Help: "Total number of purchase attempts rejected",
	},
	[]string{"kind"},
)

// FeesCollected accumulates platform fees in base currency units.
var FeesCollected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "datamarket_fees_collected_units_total",
		Help: "Total platform fees collected, in base currency units",
	},
)

// Settlement latency distribution.
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "datamarket_settlement_latency_seconds",
		Help:    "Latency in seconds to settle individual purchases",
		Buckets: prometheus.DefBuckets,
	},
)

// WebSocket event feed metrics.
var (
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datamarket_ws_connections",
			Help: "Number of connected event feed clients",
		},
	)

	WSEventsBroadcast = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datamarket_ws_events_broadcast_total",
			Help: "Total number of domain events broadcast to feed clients",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datamarket_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datamarket_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(ListingsRegistered, PurchasesSettled, PurchasesRejected, FeesCollected, SettlementLatency)
	prometheus.MustRegister(WSConnections, WSEventsBroadcast)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
