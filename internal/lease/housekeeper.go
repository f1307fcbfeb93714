// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lease runs the background sweep that requeues jobs whose leases
// expired without a renewal or a completion — a worker crash, a deadlocked
// actor, or a network partition between dispatcher and store. Grounded on
// the teacher's deleted internal/pipeline/worker.LeaseExpiryWorker: a single
// ticker loop querying a filtered store method and logging/metricizing the
// result, with no state of its own beyond the ticker.
package lease

import (
	"context"
	"time"

	"github.com/ferrex-media/scanorchestrator/internal/bus"
	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/metrics"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/store"
)

const defaultInterval = 10 * time.Second

// Housekeeper periodically expires stale leases and requeues their jobs
// with backoff, so a dead worker never strands a job in Leased forever.
type Housekeeper struct {
	Store       store.Store
	Bus         bus.Bus
	RetryPolicy *retry.Policy
	Interval    time.Duration
	Clock       func() time.Time

	// HeavyLibraryAttemptThreshold mirrors queue.Service's use of the same
	// config field (queue.go's Fail) so lease-expiry requeues apply the
	// heavy-library slowdown the same way actor-reported failures do.
	HeavyLibraryAttemptThreshold int
}

// New builds a Housekeeper from the resolved lease and retry configuration.
func New(st store.Store, b bus.Bus, retryPolicy *retry.Policy, cfg config.LeaseConfig, retryCfg config.RetryConfig) *Housekeeper {
	interval := time.Duration(cfg.HousekeeperIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Housekeeper{
		Store: st, Bus: b, RetryPolicy: retryPolicy, Interval: interval, Clock: time.Now,
		HeavyLibraryAttemptThreshold: retryCfg.HeavyLibraryAttemptThreshold,
	}
}

// Run blocks, sweeping at Interval until ctx is canceled.
func (h *Housekeeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	log.WithComponent("lease_housekeeper").Info().Dur("interval", h.Interval).Msg("lease housekeeper started")

	for {
		select {
		case <-ticker.C:
			h.sweep(ctx)
		case <-ctx.Done():
			log.WithComponent("lease_housekeeper").Info().Msg("lease housekeeper stopped")
			return ctx.Err()
		}
	}
}

func (h *Housekeeper) sweep(ctx context.Context) {
	start := h.Clock()

	backoffFor := func(job *model.Job) time.Duration {
		heavy, err := h.Store.IsLibraryHeavy(ctx, job.LibraryID, h.HeavyLibraryAttemptThreshold)
		if err != nil {
			heavy = false
		}
		return h.RetryPolicy.Decide(true, job.Attempts, heavy).Delay
	}

	expired, err := h.Store.ExpireStaleLeases(ctx, start, backoffFor)
	if err != nil {
		log.WithComponent("lease_housekeeper").Error().Err(err).Msg("lease sweep failed")
		return
	}

	for _, job := range expired {
		metrics.LeaseExpiredTotal.WithLabelValues(string(job.Kind)).Inc()
		h.publish(ctx, job)
	}

	if h.Bus != nil {
		if depths, derr := h.Store.QueueDepths(ctx); derr == nil {
			tick := &model.JobEvent{
				Meta:        model.EventMeta{Version: model.EventMetaVersion},
				Kind:        model.EventThroughputTick,
				QueueDepths: depths,
				SampledAt:   start,
			}
			if perr := h.Bus.Publish(ctx, model.JobLifecycleTopic, tick); perr != nil {
				log.WithComponent("lease_housekeeper").Debug().Err(perr).Msg("throughput tick publish dropped")
			}
		}
	}

	metrics.HousekeeperSweepDuration.Observe(time.Since(start).Seconds())
	if len(expired) > 0 {
		log.WithComponent("lease_housekeeper").Info().Int("expired", len(expired)).Msg("expired stale leases")
	}
}

func (h *Housekeeper) publish(ctx context.Context, job *model.Job) {
	if h.Bus == nil {
		return
	}
	evt := &model.JobEvent{
		Meta: model.EventMeta{
			Version:        model.EventMetaVersion,
			LibraryID:      job.LibraryID,
			PathKey:        job.PathKey,
			IdempotencyKey: job.DedupeKey,
		},
		Kind:  model.EventLeaseExpired,
		JobID: job.JobID,
	}
	if err := h.Bus.Publish(ctx, model.JobLifecycleTopic, evt); err != nil {
		log.WithComponent("lease_housekeeper").Debug().Err(err).Msg("lease expired event publish dropped")
	}
}
