// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package library implements the library actor (spec.md §4.9): bulk seed at
// depth 1 for a library's root paths, watch-triggered targeted enqueues,
// and the max_outstanding_jobs admission cap. Grounded on the teacher's
// deleted internal/pipeline/scan.Manager: an atomic.Bool single-flight guard
// around one long-running operation, status tracked under a separate mutex.
package library

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/fsutil"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/queue"
	"github.com/ferrex-media/scanorchestrator/internal/watch"
)

// Enqueuer is the narrow slice of queue.Service the actor needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec model.JobSpec) (model.JobHandle, error)
	QueueDepths(ctx context.Context) (map[model.Kind]int, error)
}

var _ Enqueuer = (*queue.Service)(nil)

// BulkSeedOptions configures one bulk-seed run.
type BulkSeedOptions struct {
	LibraryID  uuid.UUID
	RootPaths  []string
	Partitions int
	Priority   model.Priority
}

// Actor drives bulk seed and watch-triggered enqueues for one library.
// Grounded on the teacher's scan.Manager.isScanning atomic.Bool dedup guard:
// one bulk seed runs at a time per Actor instance.
type Actor struct {
	Queue Enqueuer
	Cfg   config.QueueConfig
	Bulk  config.BulkModeConfig

	seeding atomic.Bool
}

// New builds a library Actor.
func New(q Enqueuer, cfg config.QueueConfig, bulk config.BulkModeConfig) *Actor {
	return &Actor{Queue: q, Cfg: cfg, Bulk: bulk}
}

// BulkSeed enqueues one FolderScan job per immediate subdirectory of each
// root path (depth 1 — recursion happens through the actor's own follow-ups,
// not a single deep scan). Returns false without enqueuing anything if a
// bulk seed is already running on this Actor, or if the queue-wide count of
// Ready+Leased FolderScan jobs (QueueDepths, summed over all libraries) is
// already at maxOutstandingJobs. The cap is not counted per library, and
// jobs of other kinds do not count toward it.
func (a *Actor) BulkSeed(ctx context.Context, opts BulkSeedOptions, maxOutstandingJobs int) (bool, error) {
	if !a.seeding.CompareAndSwap(false, true) {
		return false, nil
	}
	defer a.seeding.Store(false)

	if opts.Partitions <= 0 {
		opts.Partitions = a.Bulk.MaintenancePartitionCount
	}
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}

	logger := log.WithComponent("library_actor").With().Str("library_id", opts.LibraryID.String()).Logger()

	if maxOutstandingJobs > 0 {
		depths, err := a.Queue.QueueDepths(ctx)
		if err != nil {
			return false, err
		}
		if depths[model.KindFolderScan] >= maxOutstandingJobs {
			logger.Warn().Int("outstanding", depths[model.KindFolderScan]).Msg("bulk seed paused: queued FolderScan jobs at max_outstanding_jobs")
			return false, nil
		}
	}

	partition := 0
	for _, root := range opts.RootPaths {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			logger.Error().Err(err).Str("root", root).Msg("failed to resolve library root")
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Error().Err(err).Str("root", root).Msg("failed to read library root")
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			childPath := filepath.Join(root, e.Name())
			confined, err := fsutil.ConfineAbsPath(absRoot, childPath)
			if err != nil {
				logger.Warn().Err(err).Str("path", childPath).Msg("bulk seed: child path escapes library root, skipping")
				continue
			}
			dedupeKey := model.NormalizePath(confined)
			spec := model.JobSpec{
				Kind:      model.KindFolderScan,
				LibraryID: opts.LibraryID,
				Priority:  a.seedPriority(opts.Priority, partition),
				DedupeKey: dedupeKey,
				Payload:   model.FolderScanPayload{Path: confined, Root: absRoot, Partition: partition},
			}
			if _, err := a.Queue.Enqueue(ctx, spec); err != nil {
				logger.Error().Err(err).Str("path", confined).Msg("failed to enqueue bulk-seed folder scan")
				continue
			}
			partition = (partition + 1) % opts.Partitions
		}
	}
	return true, nil
}

// seedPriority applies the bulk-mode speedup tier (SPEC_FULL.md §12.2) to
// partition 0's seed jobs: one priority tier higher than the run's base
// priority, so the stripe a freshly-added library is most likely to be
// browsed from catches up first. The boost rides entirely on the Priority
// field every follow-up actor already copies forward onto its children
// (scan_actors.go), so it needs no separate propagation mechanism — once a
// bulk seed completes, the effect fades back to steady-state priorities on
// the next enqueue of that path.
func (a *Actor) seedPriority(base model.Priority, partition int) model.Priority {
	if partition != 0 || a.Bulk.SpeedupFactor <= 1 || base <= model.P0 {
		return base
	}
	return base - 1
}

// HandleWatchEvent translates one debounced filesystem event into a
// targeted enqueue: a Created/Modified directory gets a FolderScan, a
// Created/Modified video file gets a MediaAnalyze, and a Deleted path is
// logged only (index retraction is out of scope for this repository, see
// spec.md §1's external collaborators list).
func (a *Actor) HandleWatchEvent(ctx context.Context, evt watch.Event) error {
	logger := log.WithComponent("library_actor").With().Str("path", evt.Path).Logger()

	if evt.Type == watch.EventDeleted {
		logger.Info().Msg("watch event: path removed")
		return nil
	}

	info, err := os.Stat(evt.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("watch event: stat failed, skipping")
		return nil
	}

	var spec model.JobSpec
	if info.IsDir() {
		spec = model.JobSpec{
			Kind: model.KindFolderScan, LibraryID: evt.LibraryID, Priority: model.P1,
			DedupeKey: model.NormalizePath(evt.Path), Payload: model.FolderScanPayload{Path: evt.Path},
		}
	} else {
		if !watch.IsVideoFile(evt.Path) {
			logger.Debug().Msg("watch event: not a video file, skipping")
			return nil
		}
		spec = model.JobSpec{
			Kind: model.KindMediaAnalyze, LibraryID: evt.LibraryID, Priority: model.P1,
			DedupeKey: model.NormalizePath(evt.Path), Payload: model.MediaAnalyzePayload{Path: evt.Path},
		}
	}

	_, err = a.Queue.Enqueue(ctx, spec)
	return err
}

// Run consumes src until ctx is canceled, handling each event in turn.
func (a *Actor) Run(ctx context.Context, src watch.EventSource) {
	logger := log.WithComponent("library_actor")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-src.Events():
			if !ok {
				return
			}
			if err := a.HandleWatchEvent(ctx, evt); err != nil {
				logger.Error().Err(err).Str("path", evt.Path).Msg("failed to handle watch event")
			}
		}
	}
}
