// Package metrics exposes prometheus collectors for the backfill pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RPCAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "rpc_attempts_total",
		Help:      "RPC attempts by network and outcome.",
	}, []string{"network", "outcome"})

	EndpointCooldowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "rpc_endpoint_cooldowns_total",
		Help:      "Endpoints put into cooldown after rate limiting.",
	}, []string{"network"})

	RangeBisections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "rpc_range_bisections_total",
		Help:      "Block ranges split after a range-too-wide error.",
	}, []string{"network"})

	RawTransactionsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "raw_transactions_fetched_total",
		Help:      "Raw transactions upserted by the raw fetch phase.",
	}, []string{"network"})

	EventsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "economic_events_written_total",
		Help:      "Economic events upserted by classification.",
	}, []string{"network"})

	ClassificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "classification_failures_total",
		Help:      "Raw transactions the classifier could not handle.",
	}, []string{"network"})

	SegmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "backfill_segments_total",
		Help:      "Backfill segments finished by phase and status.",
	}, []string{"phase", "status"})

	SyncTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "avco",
		Name:      "sync_transitions_total",
		Help:      "Sync state transitions.",
	}, []string{"network", "state"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "avco",
		Name:      "backfill_queue_depth",
		Help:      "Items waiting in the backfill queue.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "avco",
		Name:      "backfill_in_flight",
		Help:      "Backfills currently executing.",
	})

	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avco",
		Name:      "replay_duration_seconds",
		Help:      "AVCO replay duration per asset.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "avco",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route template and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
