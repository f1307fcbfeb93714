// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package budget implements the per-workload-type concurrency semaphore the
// dispatcher acquires before invoking an actor and releases on any exit
// path. Grounded on the teacher's deleted internal/admission.ResourceMonitor:
// a mutex-guarded struct of in-memory counters with no I/O under the lock.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/metrics"
	"github.com/ferrex-media/scanorchestrator/internal/model"
)

// pollInterval is the cooperative wait step for the blocking Acquire
// variant. The queue is not latency-critical at the unit level, so a coarse
// poll is acceptable (spec.md §4.5).
const pollInterval = 100 * time.Millisecond

// ErrAcquireCanceled is returned when ctx is done before a token becomes
// available.
var ErrAcquireCanceled = errors.New("budget: acquire canceled")

// unknownDevice is the fallback bucket for scan paths whose device could
// not be determined (best-effort, never blocks indefinitely).
const unknownDevice = "unknown"

// Manager guards per-workload-type concurrency budgets, plus the
// supplemented per-device scan cap (SPEC_FULL.md §12.1). All work under the
// lock is short and pure; acquisition waits happen outside it.
type Manager struct {
	mu sync.Mutex

	limits   map[model.WorkloadType]int
	inflight map[model.WorkloadType]int

	deviceLimit    int
	deviceInflight map[string]int
}

// NewManager builds a Manager from the resolved budget configuration.
func NewManager(cfg config.BudgetConfig, maxParallelScansPerDevice int) *Manager {
	limits := map[model.WorkloadType]int{
		model.WorkloadLibraryScan:        cfg.LibraryScanLimit,
		model.WorkloadMediaAnalysis:      cfg.MediaAnalysisLimit,
		model.WorkloadMetadataEnrichment: cfg.MetadataLimit,
		model.WorkloadIndexing:           cfg.IndexingLimit,
		model.WorkloadImageFetch:         cfg.ImageFetchLimit,
	}
	m := &Manager{
		limits:         limits,
		inflight:       make(map[model.WorkloadType]int, len(limits)),
		deviceLimit:    maxParallelScansPerDevice,
		deviceInflight: make(map[string]int),
	}
	for wt, limit := range limits {
		metrics.BudgetLimit.WithLabelValues(string(wt)).Set(float64(limit))
	}
	return m
}

// TryAcquire atomically increments the workload counter if below its limit
// and returns a token; otherwise it returns ok=false without blocking.
func (m *Manager) TryAcquire(workload model.WorkloadType, libraryID uuid.UUID) (*model.BudgetToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, known := m.limits[workload]
	if !known {
		limit = 1
	}
	if m.inflight[workload] >= limit {
		return nil, false
	}
	m.inflight[workload]++
	metrics.BudgetInFlight.WithLabelValues(string(workload)).Set(float64(m.inflight[workload]))
	return &model.BudgetToken{WorkloadType: workload, LibraryID: libraryID, AcquiredAt: time.Now()}, true
}

// Acquire blocks, polling every 100ms, until a token is available or ctx is
// done. A saturated budget for one workload type never blocks another.
func (m *Manager) Acquire(ctx context.Context, workload model.WorkloadType, libraryID uuid.UUID) (*model.BudgetToken, error) {
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if tok, ok := m.TryAcquire(workload, libraryID); ok {
			if waited := time.Since(start); waited > 0 {
				metrics.BudgetWaitSeconds.WithLabelValues(string(workload)).Observe(waited.Seconds())
			}
			return tok, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrAcquireCanceled
		case <-ticker.C:
		}
	}
}

// HasCapacity reports, without reserving anything, whether workload
// currently has at least one free slot. Used by the queue service to avoid
// leasing a job it cannot yet hand to an actor (invariant: dequeue never
// returns a job whose workload budget is saturated).
func (m *Manager) HasCapacity(workload model.WorkloadType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, known := m.limits[workload]
	if !known {
		limit = 1
	}
	return m.inflight[workload] < limit
}

// Release saturating-decrements the workload counter. Safe to call exactly
// once per successfully acquired token, from a deferred scope guard that
// fires on every exit path including a recovered panic.
func (m *Manager) Release(token *model.BudgetToken) {
	if token == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[token.WorkloadType] > 0 {
		m.inflight[token.WorkloadType]--
	}
	metrics.BudgetInFlight.WithLabelValues(string(token.WorkloadType)).Set(float64(m.inflight[token.WorkloadType]))
}

// TryAcquireDevice enforces the supplemented per-device scan concurrency
// cap (max_parallel_scans_per_device), a dimension distinct from the
// per-workload budget. deviceID falls back to "unknown" when the caller
// could not resolve one; that bucket never blocks indefinitely because its
// cap is the same shared limit, not a hard serialization point.
func (m *Manager) TryAcquireDevice(deviceID string) bool {
	if deviceID == "" {
		deviceID = unknownDevice
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deviceInflight[deviceID] >= m.deviceLimit {
		return false
	}
	m.deviceInflight[deviceID]++
	return true
}

// ReleaseDevice releases a per-device scan slot acquired via TryAcquireDevice.
func (m *Manager) ReleaseDevice(deviceID string) {
	if deviceID == "" {
		deviceID = unknownDevice
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceInflight[deviceID] > 0 {
		m.deviceInflight[deviceID]--
	}
}
