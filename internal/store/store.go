// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store defines the durable persistence contract the queue service
// depends on, grounded on the teacher's internal/pipeline/store.StateStore
// shape (CRUD plus lease operations behind sentinel errors), retargeted from
// session/tuner leases to job/lease leases.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/scheduler"
)

// ErrNotFound is returned when a job or lease row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrLeaseLost is returned by Renew when the lease has already expired or
// been revoked.
var ErrLeaseLost = errors.New("store: lease lost")

// ErrNoCandidate is returned by Dequeue when nothing currently qualifies for
// the requested (kind, selector) pair — not a failure, just an empty queue.
var ErrNoCandidate = errors.New("store: no candidate job")

// EnqueueOutcome is the result of one Enqueue call.
type EnqueueOutcome struct {
	Job        *model.Job
	Coalesced  bool
	Shed       bool
	MergedInto *uuid.UUID
}

// Store is the durable persistence contract for jobs and leases. All
// mutating operations are single SQL transactions; Dequeue uses
// SELECT ... FOR UPDATE SKIP LOCKED semantics so concurrent workers never
// observe the same row.
type Store interface {
	// Enqueue persists spec with state=Ready, or coalesces into an existing
	// Ready/Leased row for (library_id, dedupe_key), raising the surviving
	// job's priority to the max of the two. A live match is always
	// coalesced; the implementations in this module do not consult
	// coalesceWindow. Above
	// critical_watermark, a non-coalescing P2/P3 submission is shed instead
	// of persisted.
	Enqueue(ctx context.Context, spec model.JobSpec, now time.Time, coalesceWindow time.Duration, highWatermark, criticalWatermark int) (*EnqueueOutcome, error)

	// LibraryStates returns the scheduler's per-library fairness snapshot for
	// one kind: in-flight counts against cap, and which priority buckets
	// currently have ready work.
	LibraryStates(ctx context.Context, kind model.Kind, now time.Time, defaultCap, defaultWeight int, overrides map[string]LibraryOverride) ([]scheduler.LibraryInfo, error)

	// Dequeue attempts to atomically lease the oldest ready job for the
	// given kind matching sel, tie-broken by created_at then job_id.
	// Returns ErrNoCandidate if sel's library has nothing ready right now
	// (a benign race with another worker or a stale snapshot).
	Dequeue(ctx context.Context, kind model.Kind, sel scheduler.Selector, workerID string, leaseTTL time.Duration, now time.Time) (*model.Job, *model.Lease, error)

	// Renew extends a lease's expiry iff it is still current.
	Renew(ctx context.Context, leaseID uuid.UUID, extension time.Duration, now time.Time) (*model.Lease, error)

	// CompleteWithFollowUps transitions the leased job to Completed and
	// persists its follow-up specs in the same transaction, so a job is
	// never observed Completed with its children unpersisted (spec.md §9).
	CompleteWithFollowUps(ctx context.Context, leaseID uuid.UUID, followUps []model.JobSpec, now time.Time, coalesceWindow time.Duration, highWatermark, criticalWatermark int) ([]*EnqueueOutcome, error)

	// Fail applies decision to the leased job: either dead-letters it, or
	// increments attempts and requeues it to Ready with available_at pushed
	// out by decision.Delay.
	Fail(ctx context.Context, leaseID uuid.UUID, decision retry.Decision, lastError string, now time.Time) (*model.Job, error)

	// ListRunningByKind returns Leased jobs of the given kind (observability only).
	ListRunningByKind(ctx context.Context, kind model.Kind) ([]*model.Job, error)

	// QueueDepths returns the count of Ready+Leased jobs per kind, used for
	// ThroughputTick events and the library actor's bulk-seed cap.
	QueueDepths(ctx context.Context) (map[model.Kind]int, error)

	// ExpireStaleLeases is the housekeeper's core operation: it finds leases
	// with expires_at < now whose jobs are still Leased, requeues each job
	// to Ready with attempts incremented and available_at pushed out by
	// backoffFor(job), and returns the affected jobs for event publication.
	ExpireStaleLeases(ctx context.Context, now time.Time, backoffFor func(job *model.Job) time.Duration) ([]*model.Job, error)

	// Requeue is the administrative dead-letter retry (spec.md §7): resets
	// attempts and transitions a DeadLettered job back to Ready.
	Requeue(ctx context.Context, jobID uuid.UUID, now time.Time) (*model.Job, error)

	// IsLibraryHeavy reports whether libraryID currently has more than
	// threshold jobs whose attempts exceed 1 (the heavy-library slowdown
	// refinement, spec.md §4.6).
	IsLibraryHeavy(ctx context.Context, libraryID uuid.UUID, threshold int) (bool, error)
}

// LibraryOverride mirrors config.LibraryOverride without importing the
// config package, keeping store free of a config dependency.
type LibraryOverride struct {
	Cap    int
	Weight int
}
