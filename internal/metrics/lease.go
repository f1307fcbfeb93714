// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaseExpiredTotal counts leases the housekeeper reaped past their TTL.
	LeaseExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_lease_expired_total",
		Help: "Total number of leases expired and reaped by the housekeeper, by kind.",
	}, []string{"kind"})

	// LeaseRenewedTotal counts successful lease renewals.
	LeaseRenewedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_lease_renewed_total",
		Help: "Total number of successful lease renewals, by kind.",
	}, []string{"kind"})

	// LeaseLostTotal counts renewal attempts that failed because the lease
	// had already expired or been revoked.
	LeaseLostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_lease_lost_total",
		Help: "Total number of renewal attempts that found the lease already gone, by kind.",
	}, []string{"kind"})

	// HousekeeperSweepDuration measures how long one housekeeper pass takes.
	HousekeeperSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_housekeeper_sweep_duration_seconds",
		Help:    "Duration of one housekeeper expired-lease sweep.",
		Buckets: prometheus.DefBuckets,
	})
)
