// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatcher runs the worker pool that pulls jobs from the queue
// service, acquires the job's workload budget token, invokes the registered
// actor, and reports the outcome back to the queue. Grounded on the
// teacher's deleted internal/pipeline/worker.Orchestrator: one goroutine per
// in-flight unit of work, a deferred cleanup path covering every exit, and a
// heartbeat/renewal timer running alongside execution.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ferrex-media/scanorchestrator/internal/actor"
	"github.com/ferrex-media/scanorchestrator/internal/budget"
	"github.com/ferrex-media/scanorchestrator/internal/bus"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/metrics"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/queue"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/scanerr"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultLeaseTTL     = 2 * time.Minute
)

// WorkerPool runs one polling loop per job kind, each with its own
// concurrency limit, sharing the queue service, budget manager and actor
// registry.
type WorkerPool struct {
	Queue       *queue.Service
	Budget      *budget.Manager
	Bus         bus.Bus
	Actors      *actor.Registry
	RetryPolicy *retry.Policy

	// MetadataLimiter paces MetadataEnrich executions independently of the
	// workload concurrency budget, protecting upstream metadata providers
	// from bursts the budget alone would let through (SPEC_FULL.md §12.3).
	// Nil disables pacing.
	MetadataLimiter *rate.Limiter

	WorkerID     string
	LeaseTTL     time.Duration
	PollInterval time.Duration

	// Concurrency caps how many goroutines poll for one kind concurrently;
	// it is a ceiling above the budget manager, not a replacement for it —
	// the budget still gates how many executions actually run.
	Concurrency map[model.Kind]int
}

// Run starts one errgroup-supervised polling loop per registered kind and
// blocks until ctx is canceled or any loop returns a non-context error.
func (p *WorkerPool) Run(ctx context.Context) error {
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = defaultLeaseTTL
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultPollInterval
	}

	g, gctx := errgroup.WithContext(ctx)
	for kind, n := range p.Concurrency {
		kind, n := kind, n
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			g.Go(func() error { return p.pollLoop(gctx, kind) })
		}
	}
	return g.Wait()
}

func (p *WorkerPool) pollLoop(ctx context.Context, kind model.Kind) error {
	logger := log.WithComponent("dispatcher")
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tryOne(ctx, kind); err != nil && !errors.Is(err, queue.ErrNoCandidate) {
				logger.Error().Err(err).Str("kind", string(kind)).Msg("dequeue attempt failed")
			}
		}
	}
}

// tryOne dequeues at most one job of kind and, if one is available, executes
// it synchronously within the caller's poll tick. Returns queue.ErrNoCandidate
// when nothing was ready, which is not logged as an error upstream.
func (p *WorkerPool) tryOne(ctx context.Context, kind model.Kind) error {
	job, lease, err := p.Queue.Dequeue(ctx, queue.DequeueRequest{Kind: kind, WorkerID: p.WorkerID, LeaseTTL: p.LeaseTTL})
	if err != nil {
		return err
	}

	workload, _ := model.WorkloadForKind(kind)
	token, ok := p.Budget.TryAcquire(workload, job.LibraryID)
	if !ok {
		// Budget is momentarily saturated despite the queue's best-effort
		// peek (a benign race); let the lease expire and the housekeeper
		// requeue it rather than blocking this poll tick.
		return nil
	}
	defer p.Budget.Release(token)

	if job.Kind == model.KindMetadataEnrich && p.MetadataLimiter != nil {
		if !p.MetadataLimiter.Allow() {
			metrics.MetadataThrottledTotal.Inc()
			if err := p.MetadataLimiter.Wait(ctx); err != nil {
				return err
			}
		}
	}

	return p.execute(ctx, job, lease)
}

func (p *WorkerPool) execute(ctx context.Context, job *model.Job, lease *model.Lease) error {
	ctx = log.ContextWithJobID(ctx, job.JobID.String())
	if job.CorrelationID != "" {
		ctx = log.ContextWithCorrelationID(ctx, job.CorrelationID)
	}
	logger := log.WithContext(ctx, log.WithComponent("dispatcher")).With().Str("kind", string(job.Kind)).Logger()

	act, ok := p.Actors.Lookup(job.Kind)
	if !ok {
		logger.Error().Msg("no actor registered for kind")
		_, err := p.Queue.Fail(ctx, lease.LeaseID, job, false, "no actor registered", p.RetryPolicy)
		return err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopRenew := p.renewLoop(execCtx, lease, cancel)
	defer stopRenew()

	outcome, err := act.Execute(execCtx, job)
	if err != nil {
		retryable, reason := classify(err)
		logger.Warn().Err(err).Bool("retryable", retryable).Str("reason", reason).Msg("actor execution failed")
		_, ferr := p.Queue.Fail(ctx, lease.LeaseID, job, retryable, err.Error(), p.RetryPolicy)
		return ferr
	}

	if p.Bus != nil {
		for _, de := range outcome.DomainEvents {
			if perr := p.Bus.Publish(ctx, model.DomainEventTopic, &de); perr != nil {
				logger.Debug().Err(perr).Msg("domain event publish dropped")
			}
		}
	}

	_, cerr := p.Queue.Complete(ctx, lease.LeaseID, job, outcome.FollowUps)
	return cerr
}

func classify(err error) (retryable bool, reason string) {
	var f *scanerr.Failure
	if errors.As(err, &f) {
		return f.Retryable, f.Reason
	}
	return true, "unclassified"
}

// renewLoop starts a background goroutine that renews lease every half of
// its TTL until stopped. The interval is fixed at 0.5 × TTL; the
// renew_at_fraction and renew_min_margin_ms settings are not read here.
// The returned func must be
// called exactly once to stop the goroutine. On renewal failure, cancel is
// invoked so execCtx observes cancellation immediately: spec.md §4.3 makes
// renewal failure fatal to the current attempt, and the actor must stop
// rather than keep running unsupervised against a lease the housekeeper may
// already be reaping.
func (p *WorkerPool) renewLoop(ctx context.Context, lease *model.Lease, cancel context.CancelFunc) func() {
	ttl := lease.ExpiresAt.Sub(lease.IssuedAt)
	interval := time.Duration(float64(ttl) * 0.5)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if _, err := p.Queue.Renew(ctx, lease.LeaseID, ttl); err != nil {
					log.WithComponent("dispatcher").Warn().Err(err).Str("lease_id", lease.LeaseID.String()).Msg("lease renewal failed, canceling execution")
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
