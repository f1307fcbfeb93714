// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler implements the pure weighted round-robin priority and
// per-library fairness selection consulted by each dequeue attempt. It holds
// no I/O and no database knowledge: the queue service feeds it a snapshot of
// library state and receives back a Selector describing which (priority,
// library) pair to draw the next job from.
package scheduler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/model"
)

// LibraryInfo is one library's current fairness state for one dequeue
// attempt, as seen by the queue service for a specific kind.
type LibraryInfo struct {
	LibraryID uuid.UUID
	Weight    int
	InFlight  int
	Cap       int
	// HasReady reports, per priority bucket, whether this library has at
	// least one Ready job of the kind being dequeued available now.
	HasReady map[model.Priority]bool
}

func (l LibraryInfo) eligible(p model.Priority) bool {
	if l.InFlight >= l.Cap {
		return false
	}
	return l.HasReady[p]
}

// Selector is the scheduler's decision for one dequeue attempt: draw the
// oldest ready job of this priority belonging to this library.
type Selector struct {
	Priority  model.Priority
	LibraryID uuid.UUID
}

var priorityOrder = []model.Priority{model.P0, model.P1, model.P2, model.P3}

// Scheduler holds the weighted round-robin credit state. It is safe for
// concurrent use; all work under its lock is short, pure, in-memory
// bookkeeping with no suspension points, matching the teacher's
// sync.RWMutex-guarded counter-struct pattern.
type Scheduler struct {
	mu sync.Mutex

	weights map[model.Priority]int
	credit  map[model.Priority]int

	libraryCredit map[uuid.UUID]int
}

// New builds a Scheduler seeded with the configured priority weights.
func New(weights config.PriorityWeights) *Scheduler {
	w := map[model.Priority]int{
		model.P0: weights.P0,
		model.P1: weights.P1,
		model.P2: weights.P2,
		model.P3: weights.P3,
	}
	s := &Scheduler{
		weights:       w,
		credit:        make(map[model.Priority]int, len(w)),
		libraryCredit: make(map[uuid.UUID]int),
	}
	s.refillPriority()
	return s
}

func (s *Scheduler) refillPriority() {
	for p, w := range s.weights {
		s.credit[p] = w
	}
}

func (s *Scheduler) priorityExhausted() bool {
	for _, c := range s.credit {
		if c > 0 {
			return false
		}
	}
	return true
}

// Choose returns the next (priority, library) pair to draw a job from, or
// nil if no library has anything eligible in any bucket. libraries is keyed
// by the caller to whatever kind is currently being dequeued.
func (s *Scheduler) Choose(libraries []LibraryInfo) *Selector {
	if len(libraries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.priorityExhausted() {
		s.refillPriority()
	}

	// Try each priority bucket in weight order, starting from P0, skipping
	// empty buckets without consuming their credit. A bucket whose credit is
	// already zero is not a candidate in this pass; the refill above restores
	// every bucket's credit once all of them have reached zero.
	for _, p := range priorityOrder {
		if s.credit[p] <= 0 {
			continue
		}
		lib := s.pickLibrary(libraries, p)
		if lib == nil {
			// No eligible library has ready work in this bucket; leave its
			// credit untouched and try the next bucket.
			continue
		}
		s.credit[p]--
		s.libraryCredit[lib.LibraryID]--
		return &Selector{Priority: p, LibraryID: lib.LibraryID}
	}

	// Every bucket with remaining credit was empty of eligible work; fall
	// back to scanning all buckets regardless of credit so a single
	// non-empty low bucket is not starved forever by an exhausted refill
	// cycle that never reaches it in priority order.
	for _, p := range priorityOrder {
		lib := s.pickLibrary(libraries, p)
		if lib == nil {
			continue
		}
		s.libraryCredit[lib.LibraryID]--
		return &Selector{Priority: p, LibraryID: lib.LibraryID}
	}
	return nil
}

// pickLibrary chooses among the libraries eligible for priority p using a
// weighted round-robin over library credit, refilling when every eligible
// library's credit has reached zero.
func (s *Scheduler) pickLibrary(libraries []LibraryInfo, p model.Priority) *LibraryInfo {
	var eligible []LibraryInfo
	for _, l := range libraries {
		if l.eligible(p) {
			eligible = append(eligible, l)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	needsRefill := true
	for _, l := range eligible {
		credit, ok := s.libraryCredit[l.LibraryID]
		if !ok {
			weight := l.Weight
			if weight <= 0 {
				weight = 1
			}
			s.libraryCredit[l.LibraryID] = weight
			credit = weight
		}
		if credit > 0 {
			needsRefill = false
		}
	}
	if needsRefill {
		for _, l := range eligible {
			weight := l.Weight
			if weight <= 0 {
				weight = 1
			}
			s.libraryCredit[l.LibraryID] = weight
		}
	}

	for i := range eligible {
		l := &eligible[i]
		if s.libraryCredit[l.LibraryID] > 0 {
			return l
		}
	}
	// Defensive: should be unreachable after the refill above.
	return &eligible[0]
}
