// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue is the durable job queue service: enqueue with dedupe and
// coalescing, scheduler-filtered dequeue with lease issuance, renewal,
// completion and failure handling. It owns all job and lease rows; the
// dispatcher only ever holds a lease for the duration of one execution.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/metrics"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/scheduler"
	"github.com/ferrex-media/scanorchestrator/internal/store"
)

// ErrValidation is returned by Enqueue for a malformed job spec; nothing
// persists when this is returned.
var ErrValidation = errors.New("queue: invalid job spec")

// ErrNoCandidate is returned by Dequeue when nothing currently qualifies.
var ErrNoCandidate = store.ErrNoCandidate

// ErrLeaseLost is returned by Renew when the lease has already expired.
var ErrLeaseLost = store.ErrLeaseLost

// maxSelectorAttempts bounds how many times Dequeue retries after a
// scheduler selection races with another worker's concurrent dequeue.
const maxSelectorAttempts = 8

// BudgetPeeker is the read-only capacity check the queue consults before
// leasing a job, so it never hands out a lease for work whose workload
// budget is already saturated.
type BudgetPeeker interface {
	HasCapacity(workload model.WorkloadType) bool
}

// DequeueRequest is the dispatcher's request for the next job of one kind.
type DequeueRequest struct {
	Kind     model.Kind
	WorkerID string
	LeaseTTL time.Duration
}

// Service is the queue's public contract (spec.md §4.2).
type Service struct {
	store  store.Store
	bus    Publisher
	budget BudgetPeeker
	cfg    config.Config

	schedulers map[model.Kind]*scheduler.Scheduler
	clock      func() time.Time

	// enqueueGroup coalesces concurrent Enqueue calls racing for the same
	// (library_id, dedupe_key): without it, two goroutines submitting the
	// same folder scan in the same instant could both observe "no live row"
	// before either persists, producing two rows the store's own
	// uniqueness check can no longer merge after the fact.
	enqueueGroup singleflight.Group
}

// Publisher is the narrow slice of bus.Bus the queue needs: publish job
// lifecycle envelopes without subscribing to anything.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg interface{}) error
}

// New builds a Service. clock defaults to time.Now; tests may override it.
func New(st store.Store, pub Publisher, budget BudgetPeeker, cfg config.Config) *Service {
	return &Service{
		store:      st,
		bus:        pub,
		budget:     budget,
		cfg:        cfg,
		schedulers: make(map[model.Kind]*scheduler.Scheduler),
		clock:      time.Now,
	}
}

// SetClock overrides the Service's notion of "now"; used by tests driving
// coalescing windows and backoff deterministically.
func (q *Service) SetClock(clock func() time.Time) { q.clock = clock }

func (q *Service) schedulerFor(kind model.Kind) *scheduler.Scheduler {
	if s, ok := q.schedulers[kind]; ok {
		return s
	}
	s := scheduler.New(q.cfg.PriorityWeights)
	q.schedulers[kind] = s
	return s
}

func validateSpec(spec model.JobSpec) error {
	if !model.ValidKind(spec.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, spec.Kind)
	}
	if spec.LibraryID == uuid.Nil {
		return fmt.Errorf("%w: library_id is required", ErrValidation)
	}
	if spec.DedupeKey == "" {
		return fmt.Errorf("%w: dedupe_key is required", ErrValidation)
	}
	if spec.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if spec.Payload.Kind() != spec.Kind {
		return fmt.Errorf("%w: payload kind %q does not match spec kind %q", ErrValidation, spec.Payload.Kind(), spec.Kind)
	}
	return nil
}

func libraryOverrides(cfg config.QueueConfig) map[string]store.LibraryOverride {
	out := make(map[string]store.LibraryOverride, len(cfg.LibraryOverrides))
	for k, v := range cfg.LibraryOverrides {
		out[k] = store.LibraryOverride{Cap: v.Cap, Weight: v.Weight}
	}
	return out
}

func eventMeta(spec model.JobSpec) model.EventMeta {
	return model.EventMeta{
		Version:        model.EventMetaVersion,
		CorrelationID:  spec.CorrelationID,
		IdempotencyKey: spec.DedupeKey,
		LibraryID:      spec.LibraryID,
		PathKey:        model.StablePathKey(spec.Payload),
	}
}

func (q *Service) publishJobEvent(ctx context.Context, evt model.JobEvent) {
	if q.bus == nil {
		return
	}
	if err := q.bus.Publish(ctx, model.JobLifecycleTopic, &evt); err != nil {
		log.WithComponent("queue").Debug().Err(err).Str("kind", string(evt.Kind)).Msg("job event publish dropped")
	}
}

// Enqueue persists spec, or coalesces it into a live job for the same
// (library_id, dedupe_key), or reports a shed outcome above the critical
// watermark for low-priority work.
func (q *Service) Enqueue(ctx context.Context, spec model.JobSpec) (model.JobHandle, error) {
	if err := validateSpec(spec); err != nil {
		return model.JobHandle{}, err
	}
	if spec.IdempotencyKey == "" {
		spec.IdempotencyKey = spec.DedupeKey
	}

	now := q.clock()
	qc := q.cfg.Queue
	sfKey := spec.LibraryID.String() + "|" + spec.DedupeKey
	raw, err, _ := q.enqueueGroup.Do(sfKey, func() (interface{}, error) {
		return q.store.Enqueue(ctx, spec, now,
			time.Duration(qc.CoalesceWindowMs)*time.Millisecond, qc.HighWatermark, qc.CriticalWatermark)
	})
	if err != nil {
		return model.JobHandle{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	outcome := raw.(*store.EnqueueOutcome)

	meta := eventMeta(spec)

	if outcome.Shed {
		metrics.ShedTotal.WithLabelValues(string(spec.Kind)).Inc()
		return model.JobHandle{
			Kind: spec.Kind, Priority: spec.Priority, DedupeKey: spec.DedupeKey,
			LibraryID: spec.LibraryID, Shed: true,
		}, nil
	}

	handle := model.JobHandle{
		JobID:      outcome.Job.JobID,
		Kind:       outcome.Job.Kind,
		Priority:   outcome.Job.Priority,
		DedupeKey:  outcome.Job.DedupeKey,
		LibraryID:  outcome.Job.LibraryID,
		MergedInto: outcome.MergedInto,
	}
	meta.LibraryID = outcome.Job.LibraryID

	if outcome.Coalesced {
		metrics.CoalesceTotal.WithLabelValues(string(spec.Kind)).Inc()
		q.publishJobEvent(ctx, model.JobEvent{Meta: meta, Kind: model.EventMerged, JobID: outcome.Job.JobID})
	} else {
		metrics.EnqueueTotal.WithLabelValues(string(spec.Kind)).Inc()
		q.publishJobEvent(ctx, model.JobEvent{Meta: meta, Kind: model.EventEnqueued, JobID: outcome.Job.JobID})
	}
	return handle, nil
}

// Dequeue consults the scheduler for the kind's current (priority, library)
// selection, peeks the workload budget, and attempts to lease the oldest
// ready job matching the selection. It retries against the next-best
// selection if a race loses the row to another worker.
func (q *Service) Dequeue(ctx context.Context, req DequeueRequest) (*model.Job, *model.Lease, error) {
	workload, ok := model.WorkloadForKind(req.Kind)
	if ok && q.budget != nil && !q.budget.HasCapacity(workload) {
		return nil, nil, ErrNoCandidate
	}

	now := q.clock()
	qc := q.cfg.Queue
	sched := q.schedulerFor(req.Kind)

	libs, err := q.store.LibraryStates(ctx, req.Kind, now, qc.DefaultLibraryCap, qc.DefaultLibraryWeight, libraryOverrides(qc))
	if err != nil {
		return nil, nil, fmt.Errorf("queue: library states: %w", err)
	}

	for attempt := 0; attempt < maxSelectorAttempts && len(libs) > 0; attempt++ {
		sel := sched.Choose(libs)
		if sel == nil {
			return nil, nil, ErrNoCandidate
		}

		job, lease, err := q.store.Dequeue(ctx, req.Kind, *sel, req.WorkerID, req.LeaseTTL, now)
		if err == nil {
			metrics.DequeueTotal.WithLabelValues(job.Priority.String()).Inc()
			q.publishJobEvent(ctx, model.JobEvent{
				Meta: model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey, IdempotencyKey: job.DedupeKey},
				Kind: model.EventDequeued, JobID: job.JobID,
			})
			return job, lease, nil
		}
		if !errors.Is(err, store.ErrNoCandidate) {
			return nil, nil, fmt.Errorf("queue: dequeue: %w", err)
		}

		libs = removeLibrary(libs, sel.LibraryID)
	}
	return nil, nil, ErrNoCandidate
}

func removeLibrary(libs []scheduler.LibraryInfo, id uuid.UUID) []scheduler.LibraryInfo {
	out := libs[:0]
	for _, l := range libs {
		if l.LibraryID != id {
			out = append(out, l)
		}
	}
	return out
}

// Renew extends a held lease.
func (q *Service) Renew(ctx context.Context, leaseID uuid.UUID, extension time.Duration) (*model.Lease, error) {
	lease, err := q.store.Renew(ctx, leaseID, extension, q.clock())
	if err != nil {
		return nil, err
	}
	metrics.LeaseRenewedTotal.WithLabelValues("").Inc()
	return lease, nil
}

// Complete transitions the leased job to Completed and persists its
// follow-up specs in the same transaction (spec.md §9's tightened
// invariant: never observe Completed before its children are durable).
func (q *Service) Complete(ctx context.Context, leaseID uuid.UUID, job *model.Job, followUps []model.JobSpec) ([]model.JobHandle, error) {
	qc := q.cfg.Queue
	outcomes, err := q.store.CompleteWithFollowUps(ctx, leaseID, followUps, q.clock(),
		time.Duration(qc.CoalesceWindowMs)*time.Millisecond, qc.HighWatermark, qc.CriticalWatermark)
	if err != nil {
		return nil, fmt.Errorf("queue: complete: %w", err)
	}

	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey, IdempotencyKey: job.DedupeKey}
	q.publishJobEvent(ctx, model.JobEvent{Meta: meta, Kind: model.EventCompleted, JobID: job.JobID})

	handles := make([]model.JobHandle, 0, len(outcomes))
	for i, out := range outcomes {
		spec := followUps[i]
		if out.Shed {
			metrics.ShedTotal.WithLabelValues(string(spec.Kind)).Inc()
			handles = append(handles, model.JobHandle{Kind: spec.Kind, Priority: spec.Priority, DedupeKey: spec.DedupeKey, LibraryID: spec.LibraryID, Shed: true})
			continue
		}
		h := model.JobHandle{JobID: out.Job.JobID, Kind: out.Job.Kind, Priority: out.Job.Priority, DedupeKey: out.Job.DedupeKey, LibraryID: out.Job.LibraryID, MergedInto: out.MergedInto}
		handles = append(handles, h)
		fmeta := eventMeta(spec)
		fmeta.LibraryID = out.Job.LibraryID
		if out.Coalesced {
			metrics.CoalesceTotal.WithLabelValues(string(spec.Kind)).Inc()
			q.publishJobEvent(ctx, model.JobEvent{Meta: fmeta, Kind: model.EventMerged, JobID: out.Job.JobID})
		} else {
			metrics.EnqueueTotal.WithLabelValues(string(spec.Kind)).Inc()
			q.publishJobEvent(ctx, model.JobEvent{Meta: fmeta, Kind: model.EventEnqueued, JobID: out.Job.JobID})
		}
	}
	return handles, nil
}

// Fail consults the retry policy and either requeues job with backoff or
// dead-letters it.
func (q *Service) Fail(ctx context.Context, leaseID uuid.UUID, job *model.Job, retryable bool, lastError string, retryPolicy *retry.Policy) (*model.Job, error) {
	heavy, err := q.store.IsLibraryHeavy(ctx, job.LibraryID, q.cfg.Retry.HeavyLibraryAttemptThreshold)
	if err != nil {
		heavy = false
	}
	decision := retryPolicy.Decide(retryable, job.Attempts+1, heavy)

	updated, err := q.store.Fail(ctx, leaseID, decision, lastError, q.clock())
	if err != nil {
		return nil, fmt.Errorf("queue: fail: %w", err)
	}

	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey, IdempotencyKey: job.DedupeKey}
	q.publishJobEvent(ctx, model.JobEvent{Meta: meta, Kind: model.EventFailed, JobID: job.JobID, Retryable: retryable})

	if decision.DeadLetter {
		metrics.DeadLetteredTotal.WithLabelValues(string(job.Kind), causeFor(retryable, job.Attempts+1, q.cfg.Retry.MaxAttempts)).Inc()
		q.publishJobEvent(ctx, model.JobEvent{Meta: meta, Kind: model.EventDeadLettered, JobID: job.JobID})
	} else {
		metrics.RetryTotal.WithLabelValues(string(job.Kind)).Inc()
		metrics.BackoffSeconds.WithLabelValues(string(job.Kind)).Observe(decision.Delay.Seconds())
	}
	return updated, nil
}

func causeFor(retryable bool, attempts, maxAttempts int) string {
	if !retryable {
		return "non_retryable"
	}
	if attempts >= maxAttempts {
		return "attempts_exhausted"
	}
	return "unknown"
}

// ListRunningByKind is observability-only.
func (q *Service) ListRunningByKind(ctx context.Context, kind model.Kind) ([]*model.Job, error) {
	return q.store.ListRunningByKind(ctx, kind)
}

// QueueDepths returns the current Ready+Leased depth per kind.
func (q *Service) QueueDepths(ctx context.Context) (map[model.Kind]int, error) {
	return q.store.QueueDepths(ctx)
}

// Requeue is the administrative dead-letter retry (SPEC_FULL.md §12.5).
func (q *Service) Requeue(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	return q.store.Requeue(ctx, jobID, q.clock())
}
