// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/scheduler"
)

// FakeQueueStore is an in-process Store used by queue-service unit tests,
// grounded on the teacher's deleted internal/pipeline/store.MemoryStore: a
// single mutex guarding plain maps, no persistence, no SQL.
type FakeQueueStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*model.Job
	leases map[uuid.UUID]*model.Lease // keyed by lease id
	byJob  map[uuid.UUID]uuid.UUID    // job id -> lease id
}

// NewFakeQueueStore builds an empty fake store.
func NewFakeQueueStore() *FakeQueueStore {
	return &FakeQueueStore{
		jobs:   make(map[uuid.UUID]*model.Job),
		leases: make(map[uuid.UUID]*model.Lease),
		byJob:  make(map[uuid.UUID]uuid.UUID),
	}
}

var _ Store = (*FakeQueueStore)(nil)

func (s *FakeQueueStore) findLive(libraryID uuid.UUID, dedupeKey string) *model.Job {
	for _, j := range s.jobs {
		if j.LibraryID == libraryID && j.DedupeKey == dedupeKey &&
			(j.State == model.StateReady || j.State == model.StateLeased) {
			return j
		}
	}
	return nil
}

func (s *FakeQueueStore) depthForKind(kind model.Kind) int {
	n := 0
	for _, j := range s.jobs {
		if j.Kind == kind && (j.State == model.StateReady || j.State == model.StateLeased) {
			n++
		}
	}
	return n
}

// findAnyLive returns any live job of kind in libraryID, regardless of
// dedupe_key. Used only for the above-high_watermark eager coalesce, where
// §4.2 allows a low-priority submission to merge into any candidate rather
// than requiring an exact dedupe-key match.
func (s *FakeQueueStore) findAnyLive(libraryID uuid.UUID, kind model.Kind) *model.Job {
	for _, j := range s.jobs {
		if j.LibraryID == libraryID && j.Kind == kind &&
			(j.State == model.StateReady || j.State == model.StateLeased) {
			return j
		}
	}
	return nil
}

func (s *FakeQueueStore) Enqueue(_ context.Context, spec model.JobSpec, now time.Time, _ time.Duration, highWatermark, criticalWatermark int) (*EnqueueOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(spec, now, highWatermark, criticalWatermark)
}

// enqueueLocked implements §4.2's enqueue/coalesce/shed decision. The
// coalesce window is not consulted (Enqueue discards it), so hits inside
// and outside the window are treated alike; the uniqueness invariant (at
// most one live row per library+dedupe_key) forces a coalesce on any
// match, so a match always survives.
func (s *FakeQueueStore) enqueueLocked(spec model.JobSpec, now time.Time, highWatermark, criticalWatermark int) (*EnqueueOutcome, error) {
	if existing := s.findLive(spec.LibraryID, spec.DedupeKey); existing != nil {
		if spec.Priority < existing.Priority {
			existing.Priority = spec.Priority
		}
		existing.UpdatedAt = now
		id := existing.JobID
		return &EnqueueOutcome{Job: existing, Coalesced: true, MergedInto: &id}, nil
	}

	depth := s.depthForKind(spec.Kind)
	lowPriority := spec.Priority == model.P2 || spec.Priority == model.P3

	if lowPriority && depth >= highWatermark {
		if any := s.findAnyLive(spec.LibraryID, spec.Kind); any != nil {
			any.UpdatedAt = now
			id := any.JobID
			return &EnqueueOutcome{Job: any, Coalesced: true, MergedInto: &id}, nil
		}
	}

	if depth >= criticalWatermark && lowPriority {
		return &EnqueueOutcome{Shed: true}, nil
	}

	job := &model.Job{
		JobID:         model.NewJobID(),
		Kind:          spec.Kind,
		Payload:       spec.Payload,
		LibraryID:     spec.LibraryID,
		Priority:      spec.Priority,
		DedupeKey:     spec.DedupeKey,
		Attempts:      0,
		State:         model.StateReady,
		CreatedAt:     now,
		UpdatedAt:     now,
		AvailableAt:   now,
		PathKey:       model.StablePathKey(spec.Payload),
		CorrelationID: spec.CorrelationID,
	}
	s.jobs[job.JobID] = job
	return &EnqueueOutcome{Job: job, Coalesced: false}, nil
}

func (s *FakeQueueStore) LibraryStates(_ context.Context, kind model.Kind, now time.Time, defaultCap, defaultWeight int, overrides map[string]LibraryOverride) ([]scheduler.LibraryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byLib := make(map[uuid.UUID]*scheduler.LibraryInfo)
	get := func(id uuid.UUID) *scheduler.LibraryInfo {
		if li, ok := byLib[id]; ok {
			return li
		}
		cap, weight := defaultCap, defaultWeight
		if ov, ok := overrides[id.String()]; ok {
			if ov.Cap > 0 {
				cap = ov.Cap
			}
			if ov.Weight > 0 {
				weight = ov.Weight
			}
		}
		li := &scheduler.LibraryInfo{
			LibraryID: id,
			Weight:    weight,
			Cap:       cap,
			HasReady:  map[model.Priority]bool{},
		}
		byLib[id] = li
		return li
	}

	for _, j := range s.jobs {
		if j.Kind != kind {
			continue
		}
		li := get(j.LibraryID)
		switch j.State {
		case model.StateLeased:
			li.InFlight++
		case model.StateReady:
			if !j.AvailableAt.After(now) {
				li.HasReady[j.Priority] = true
			}
		}
	}

	out := make([]scheduler.LibraryInfo, 0, len(byLib))
	for _, li := range byLib {
		out = append(out, *li)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LibraryID.String() < out[j].LibraryID.String() })
	return out, nil
}

func (s *FakeQueueStore) Dequeue(ctx context.Context, kind model.Kind, sel scheduler.Selector, workerID string, leaseTTL time.Duration, now time.Time) (*model.Job, *model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*model.Job
	for _, j := range s.jobs {
		if j.Kind == kind && j.LibraryID == sel.LibraryID && j.Priority == sel.Priority &&
			j.State == model.StateReady && !j.AvailableAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoCandidate
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].JobID.String() < candidates[j].JobID.String()
	})

	job := candidates[0]
	state, err := model.Advance(ctx, job.State, model.EventLease)
	if err != nil {
		return nil, nil, fmt.Errorf("store: dequeue: %w", err)
	}
	job.State = state
	job.UpdatedAt = now

	lease := &model.Lease{
		LeaseID:   uuid.New(),
		JobID:     job.JobID,
		WorkerID:  workerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(leaseTTL),
		Renewals:  0,
	}
	s.leases[lease.LeaseID] = lease
	s.byJob[job.JobID] = lease.LeaseID
	return job, lease, nil
}

func (s *FakeQueueStore) Renew(_ context.Context, leaseID uuid.UUID, extension time.Duration, now time.Time) (*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok || lease.ExpiresAt.Before(now) {
		return nil, ErrLeaseLost
	}
	lease.ExpiresAt = now.Add(extension)
	lease.Renewals++
	return lease, nil
}

func (s *FakeQueueStore) CompleteWithFollowUps(ctx context.Context, leaseID uuid.UUID, followUps []model.JobSpec, now time.Time, _ time.Duration, highWatermark, criticalWatermark int) ([]*EnqueueOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok {
		return nil, ErrLeaseLost
	}
	job, ok := s.jobs[lease.JobID]
	if !ok {
		return nil, ErrNotFound
	}

	state, err := model.Advance(ctx, job.State, model.EventComplete)
	if err != nil {
		return nil, fmt.Errorf("store: complete: %w", err)
	}
	job.State = state
	job.UpdatedAt = now
	delete(s.leases, leaseID)
	delete(s.byJob, job.JobID)

	outcomes := make([]*EnqueueOutcome, 0, len(followUps))
	for _, spec := range followUps {
		out, err := s.enqueueLocked(spec, now, highWatermark, criticalWatermark)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (s *FakeQueueStore) Fail(ctx context.Context, leaseID uuid.UUID, decision retry.Decision, lastError string, now time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, ok := s.leases[leaseID]
	if !ok {
		return nil, ErrLeaseLost
	}
	job, ok := s.jobs[lease.JobID]
	if !ok {
		return nil, ErrNotFound
	}

	job.LastError = lastError
	job.UpdatedAt = now
	event := model.EventRetry
	if decision.DeadLetter {
		event = model.EventDeadLetter
	}
	state, err := model.Advance(ctx, job.State, event)
	if err != nil {
		return nil, fmt.Errorf("store: fail: %w", err)
	}
	job.State = state
	if !decision.DeadLetter {
		job.Attempts++
		job.AvailableAt = now.Add(decision.Delay)
	}
	delete(s.leases, leaseID)
	delete(s.byJob, job.JobID)
	return job, nil
}

func (s *FakeQueueStore) ListRunningByKind(_ context.Context, kind model.Kind) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Job
	for _, j := range s.jobs {
		if j.Kind == kind && j.State == model.StateLeased {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *FakeQueueStore) QueueDepths(_ context.Context) (map[model.Kind]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Kind]int)
	for _, j := range s.jobs {
		if j.State == model.StateReady || j.State == model.StateLeased {
			out[j.Kind]++
		}
	}
	return out, nil
}

func (s *FakeQueueStore) ExpireStaleLeases(ctx context.Context, now time.Time, backoffFor func(job *model.Job) time.Duration) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*model.Job
	for leaseID, lease := range s.leases {
		if !lease.ExpiresAt.Before(now) {
			continue
		}
		job, ok := s.jobs[lease.JobID]
		if !ok || job.State != model.StateLeased {
			delete(s.leases, leaseID)
			delete(s.byJob, lease.JobID)
			continue
		}
		state, err := model.Advance(ctx, job.State, model.EventRetry)
		if err != nil {
			return nil, fmt.Errorf("store: expire stale lease: %w", err)
		}
		job.Attempts++
		job.State = state
		job.AvailableAt = now.Add(backoffFor(job))
		job.UpdatedAt = now
		delete(s.leases, leaseID)
		delete(s.byJob, job.JobID)
		expired = append(expired, job)
	}
	return expired, nil
}

func (s *FakeQueueStore) Requeue(ctx context.Context, jobID uuid.UUID, now time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	state, err := model.Advance(ctx, job.State, model.EventRequeue)
	if err != nil {
		return nil, fmt.Errorf("store: requeue: %w", err)
	}
	job.State = state
	job.Attempts = 0
	job.AvailableAt = now
	job.UpdatedAt = now
	return job, nil
}

func (s *FakeQueueStore) IsLibraryHeavy(_ context.Context, libraryID uuid.UUID, threshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, j := range s.jobs {
		if j.LibraryID != libraryID {
			continue
		}
		if (j.State == model.StateReady || j.State == model.StateLeased) && j.Attempts > 1 {
			count++
		}
	}
	return count > threshold, nil
}

// Snapshot returns a defensive copy of all jobs, for test assertions.
func (s *FakeQueueStore) Snapshot() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out
}
