package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudgate_events_ingested_total",
		Help: "Decision events ingested, labelled by source and upsert result.",
	}, []string{"source", "result"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudgate_events_rejected_total",
		Help: "Terminal rejections, labelled by rejection code.",
	}, []string{"code"})

	IdempotentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudgate_idempotent_conflicts_total",
		Help: "Redeliveries whose business fields differed from the stored row.",
	})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudgate_dead_letters_total",
		Help: "Messages routed to the dead-letter destination, by reason.",
	}, []string{"reason"})

	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudgate_store_retries_total",
		Help: "Transient store failures that were retried.",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudgate_circuit_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudgate_ingest_duration_ms",
		Help:    "End-to-end ingest latency per message in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
)
