// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the scan orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of Ready+Leased jobs per kind and priority.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_queue_depth",
		Help: "Current number of ready or leased jobs, by kind and priority.",
	}, []string{"kind", "priority"})

	// DequeueTotal counts successful dequeues by priority, used to verify
	// the weighted round-robin's observed share against configured weights.
	DequeueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_dequeue_total",
		Help: "Total number of jobs dequeued, by priority.",
	}, []string{"priority"})

	// EnqueueTotal counts persisted (non-coalesced) enqueues by kind.
	EnqueueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_enqueue_total",
		Help: "Total number of jobs persisted as new rows, by kind.",
	}, []string{"kind"})

	// CoalesceTotal counts enqueues that merged into an existing job.
	CoalesceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_coalesce_total",
		Help: "Total number of enqueue calls that coalesced into an existing job, by kind.",
	}, []string{"kind"})

	// ShedTotal counts low-priority submissions rejected above the
	// critical watermark.
	ShedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_shed_total",
		Help: "Total number of low-priority submissions shed above critical_watermark, by kind.",
	}, []string{"kind"})
)
