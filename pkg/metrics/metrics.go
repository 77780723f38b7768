package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_commits_total",
		Help: "The total number of commit calls by outcome",
	}, []string{"outcome"})

	RevealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_reveals_total",
		Help: "The total number of reveal calls by outcome",
	}, []string{"outcome"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_settlements_total",
		Help: "The total number of settlement attempts by outcome",
	}, []string{"outcome"})

	SlippageRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_slippage_rejections_total",
		Help: "Settlement attempts rejected because the quoted output was below min_out",
	})

	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_intents_expired_total",
		Help: "Records lazily moved to the expired state",
	})

	IntentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_intents_cancelled_total",
		Help: "Records cancelled by their owner or by settlement policy",
	})

	LiveRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_live_records",
		Help: "The number of committed or revealed records not yet terminal",
	})

	SettleProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_settle_processing_seconds",
		Help:    "Time taken to process a reveal-and-settle request",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"outcome"})

	LedgerTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_ledger_transfers_total",
		Help: "Ledger transfer calls by outcome",
	}, []string{"outcome"})

	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_quote_cache_hits_total",
		Help: "Route quotes served from the injected quote cache",
	})

	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_quote_cache_misses_total",
		Help: "Route quote lookups that fell through to the provider",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_retry_queue_size",
		Help: "Current size of the settlement retry queue",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_retries_executed_total",
		Help: "Settlement retries that were executed",
	}, []string{"error_type"})

	DroppedRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_retries_dropped_total",
		Help: "Settlement retries dropped because the queue was full or the intent expired",
	}, []string{"reason"})
)
