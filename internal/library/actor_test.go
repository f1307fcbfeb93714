// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ferrex-media/scanorchestrator/internal/budget"
	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/queue"
	"github.com/ferrex-media/scanorchestrator/internal/store"
)

func layoutS1(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"A/child", "B/child"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "A", "a.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "B", "b.mkv"), []byte("x"), 0o644))
	return root
}

func newQueueForLibrary() (*queue.Service, *store.FakeQueueStore) {
	cfg := config.Config{
		Queue: config.QueueConfig{
			HighWatermark: 100, CriticalWatermark: 1000, CoalesceWindowMs: 1000,
			DefaultLibraryCap: 10, DefaultLibraryWeight: 1,
		},
		PriorityWeights: config.PriorityWeights{P0: 8, P1: 4, P2: 2, P3: 1},
	}
	st := store.NewFakeQueueStore()
	bgt := budget.NewManager(config.BudgetConfig{LibraryScanLimit: 5, MediaAnalysisLimit: 5, MetadataLimit: 5, IndexingLimit: 5, ImageFetchLimit: 5}, 16)
	return queue.New(st, nil, bgt, cfg), st
}

// TestLibraryActor_BulkSeedDepthOne implements spec.md scenario S1: exactly
// two FolderScan jobs persist for root/A and root/B; dispatching one yields
// at least one FolderScan follow-up for its child/ directory.
func TestLibraryActor_BulkSeedDepthOne(t *testing.T) {
	root := layoutS1(t)
	svc, st := newQueueForLibrary()
	libraryID := uuid.New()

	act := New(svc, config.QueueConfig{}, config.BulkModeConfig{MaintenancePartitionCount: 1})
	started, err := act.BulkSeed(context.Background(), BulkSeedOptions{
		LibraryID: libraryID, RootPaths: []string{root}, Priority: model.P1,
	}, 0)
	require.NoError(t, err)
	require.True(t, started)

	jobs := st.Snapshot()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, model.KindFolderScan, j.Kind)
	}

	scanner := FolderScanActor{}
	outcome, err := scanner.Execute(context.Background(), jobs[0])
	require.NoError(t, err)

	sawChildFolderScan := false
	for _, fu := range outcome.FollowUps {
		if fu.Kind == model.KindFolderScan {
			sawChildFolderScan = true
		}
	}
	require.True(t, sawChildFolderScan)
}

func TestLibraryActor_BulkSeedSingleFlight(t *testing.T) {
	root := layoutS1(t)
	svc, _ := newQueueForLibrary()
	act := New(svc, config.QueueConfig{}, config.BulkModeConfig{})
	act.seeding.Store(true)

	started, err := act.BulkSeed(context.Background(), BulkSeedOptions{
		LibraryID: uuid.New(), RootPaths: []string{root},
	}, 0)
	require.NoError(t, err)
	require.False(t, started)
}

func TestLibraryActor_BulkSeedRespectsOutstandingCap(t *testing.T) {
	root := layoutS1(t)
	svc, _ := newQueueForLibrary()
	libraryID := uuid.New()

	_, err := svc.Enqueue(context.Background(), model.JobSpec{
		Kind: model.KindFolderScan, LibraryID: libraryID, DedupeKey: "existing",
		Payload: model.FolderScanPayload{Path: "/already/queued"},
	})
	require.NoError(t, err)

	act := New(svc, config.QueueConfig{}, config.BulkModeConfig{})
	started, err := act.BulkSeed(context.Background(), BulkSeedOptions{
		LibraryID: libraryID, RootPaths: []string{root},
	}, 1)
	require.NoError(t, err)
	require.False(t, started)
}

func TestFolderScanActor_RejectsMissingPath(t *testing.T) {
	scanner := FolderScanActor{}
	job := &model.Job{Kind: model.KindFolderScan, Payload: model.FolderScanPayload{Path: "/does/not/exist"}}
	_, err := scanner.Execute(context.Background(), job)
	require.Error(t, err)
}

// TestLibraryActor_BulkSeedAppliesPartitionSpeedup covers SPEC_FULL.md
// §12.2: with speedup enabled, partition 0's seed job is boosted one
// priority tier above the run's base priority; other partitions are not.
func TestLibraryActor_BulkSeedAppliesPartitionSpeedup(t *testing.T) {
	root := layoutS1(t)
	svc, st := newQueueForLibrary()
	libraryID := uuid.New()

	act := New(svc, config.QueueConfig{}, config.BulkModeConfig{MaintenancePartitionCount: 2, SpeedupFactor: 2})
	started, err := act.BulkSeed(context.Background(), BulkSeedOptions{
		LibraryID: libraryID, RootPaths: []string{root}, Priority: model.P2,
	}, 0)
	require.NoError(t, err)
	require.True(t, started)

	jobs := st.Snapshot()
	require.Len(t, jobs, 2)

	var sawBoosted, sawBase bool
	for _, j := range jobs {
		payload := j.Payload.(model.FolderScanPayload)
		switch payload.Partition {
		case 0:
			require.Equal(t, model.P1, j.Priority)
			sawBoosted = true
		case 1:
			require.Equal(t, model.P2, j.Priority)
			sawBase = true
		}
	}
	require.True(t, sawBoosted)
	require.True(t, sawBase)
}

// TestFolderScanActor_RejectsChildEscapingRoot covers the fsutil.ConfineAbsPath
// wiring: a payload.Root narrower than the scanned directory must cause any
// child path outside of it to be skipped rather than followed up on.
func TestFolderScanActor_RejectsChildEscapingRoot(t *testing.T) {
	root := layoutS1(t)
	scanner := FolderScanActor{}

	job := &model.Job{
		Kind: model.KindFolderScan,
		Payload: model.FolderScanPayload{
			Path: filepath.Join(root, "A"),
			// Root points at a disjoint sibling directory: every child of
			// root/A necessarily falls outside it.
			Root: filepath.Join(root, "B"),
		},
	}
	outcome, err := scanner.Execute(context.Background(), job)
	require.NoError(t, err)
	require.Empty(t, outcome.FollowUps)
}
