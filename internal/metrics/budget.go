// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BudgetInFlight tracks the current in-flight count per workload type.
	BudgetInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_budget_in_flight",
		Help: "Current number of in-flight units per workload type.",
	}, []string{"workload"})

	// BudgetLimit tracks the configured concurrency limit per workload type.
	BudgetLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_budget_limit",
		Help: "Configured concurrency limit per workload type.",
	}, []string{"workload"})

	// BudgetWaitSeconds measures how long acquire() blocked waiting for a
	// saturated budget to free up.
	BudgetWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_budget_wait_seconds",
		Help:    "Time spent waiting for a budget token to free up, by workload type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"workload"})

	// MetadataThrottledTotal counts dispatch attempts delayed by the
	// metadata QPS limiter independent of the concurrency budget.
	MetadataThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_metadata_throttled_total",
		Help: "Total number of metadata enrich dispatches delayed by the QPS limiter.",
	})
)
