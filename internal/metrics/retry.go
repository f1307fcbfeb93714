// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackoffSeconds records the computed retry delay handed to
	// available_at, by kind and attempt number.
	BackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_retry_backoff_seconds",
		Help:    "Computed retry backoff delay, by kind.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})

	// DeadLetteredTotal counts jobs transitioned to DeadLettered, by kind
	// and whether the cause was a non-retryable failure or attempts
	// exhaustion.
	DeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_dead_lettered_total",
		Help: "Total number of jobs dead-lettered, by kind and cause.",
	}, []string{"kind", "cause"})

	// RetryTotal counts retryable failures requeued with backoff.
	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_retry_total",
		Help: "Total number of retryable failures requeued with backoff, by kind.",
	}, []string{"kind"})
)
