package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes
const (
	tickBreakerOpen = "breaker_open"
	tickIdle        = "idle"
	tickClaimLost   = "claim_lost"
	tickStoreError  = "store_error"
	tickProcessed   = "processed"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dominion_sim_worker_ticks_total",
		Help: "Worker loop ticks by outcome",
	}, []string{"outcome"})

	workItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dominion_sim_work_items_processed_total",
		Help: "Work items that reached a terminal status, by work type and status",
	}, []string{"work_type", "status"})

	workItemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dominion_sim_work_item_duration_seconds",
		Help:    "Time spent processing a work item",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"work_type"})

	eventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dominion_sim_worker_event_publish_failures_total",
		Help: "Events the worker failed to publish, by kind",
	}, []string{"kind"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dominion_sim_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)

// ObserveBreakerState exports breaker transitions; pass it as BreakerConfig.OnStateChange
func ObserveBreakerState(_, to BreakerState) {
	breakerState.Set(float64(to))
}
