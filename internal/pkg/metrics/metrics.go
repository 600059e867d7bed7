package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firmswap_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// SettlementOps counts engine entry points by name and outcome
	// (ok/reverted), one per call to deposit/fill/settle/refund/recover/...
	SettlementOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_settlement_ops_total",
		Help: "Settlement engine entry point invocations",
	}, []string{"op", "outcome"})

	BondSlashed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_bond_slashed_total",
		Help: "Cumulative bond slashed, in the bond token's smallest unit",
	}, []string{"solver"})

	// AggregatorFanout counts one sample per solver call dispatched during
	// a quote request, labelled by how the call resolved.
	AggregatorFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_aggregator_fanout_total",
		Help: "Aggregator per-solver dispatch outcomes",
	}, []string{"outcome"})

	AggregatorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_aggregator_requests_total",
		Help: "Aggregator quote requests by result",
	}, []string{"result"})

	SolverFillQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firmswap_solver_fill_queue_depth",
		Help: "Current depth of the serial fill job queue",
	})

	// PricingRejects counts pricing-core rejections by reason.
	PricingRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_pricing_rejects_total",
		Help: "Reference solver pricing core rejections by reason",
	}, []string{"reason"})

	SolverFillsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmswap_solver_fills_submitted_total",
		Help: "Reference solver fill submissions by outcome",
	}, []string{"outcome"})

	SolverWatcherLastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firmswap_solver_watcher_last_block",
		Help: "Last block height scanned by the deposit watcher",
	})
)
