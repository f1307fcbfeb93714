// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ferrex-media/scanorchestrator/internal/model"
)

func spec(libraryID uuid.UUID, dedupeKey string, priority model.Priority) model.JobSpec {
	return model.JobSpec{
		Kind:      model.KindFolderScan,
		LibraryID: libraryID,
		Priority:  priority,
		DedupeKey: dedupeKey,
		Payload:   model.FolderScanPayload{Path: "/media/" + dedupeKey},
	}
}

func TestFakeQueueStore_EnqueueAboveHighWatermarkCoalescesLowPriority(t *testing.T) {
	st := NewFakeQueueStore()
	ctx := context.Background()
	now := time.Now()
	libraryID := uuid.New()

	// Depth 1, below high_watermark: a distinct dedupe key persists as its
	// own row.
	out, err := st.Enqueue(ctx, spec(libraryID, "a", model.P1), now, time.Second, 1, 100)
	require.NoError(t, err)
	require.False(t, out.Coalesced)

	// Depth is now 1, which meets high_watermark=1: a P2/P3 submission with
	// a brand new dedupe key must eagerly coalesce into the existing live
	// job rather than persist a second row.
	out2, err := st.Enqueue(ctx, spec(libraryID, "b", model.P3), now, time.Second, 1, 100)
	require.NoError(t, err)
	require.True(t, out2.Coalesced)
	require.NotNil(t, out2.MergedInto)
	require.Equal(t, out.Job.JobID, *out2.MergedInto)

	depths, err := st.QueueDepths(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depths[model.KindFolderScan])
}

func TestFakeQueueStore_EnqueueAboveHighWatermarkLeavesHighPriorityAlone(t *testing.T) {
	st := NewFakeQueueStore()
	ctx := context.Background()
	now := time.Now()
	libraryID := uuid.New()

	_, err := st.Enqueue(ctx, spec(libraryID, "a", model.P1), now, time.Second, 1, 100)
	require.NoError(t, err)

	// A P0/P1 submission with a new dedupe key is neither eagerly coalesced
	// nor shed, whatever the watermark.
	out, err := st.Enqueue(ctx, spec(libraryID, "b", model.P1), now, time.Second, 1, 100)
	require.NoError(t, err)
	require.False(t, out.Coalesced)

	depths, err := st.QueueDepths(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, depths[model.KindFolderScan])
}

func TestFakeQueueStore_EnqueueAboveCriticalWatermarkSheds(t *testing.T) {
	st := NewFakeQueueStore()
	ctx := context.Background()
	now := time.Now()
	libraryID := uuid.New()

	// highWatermark above depth so the eager-coalesce path never engages;
	// only the critical_watermark shed path is under test here.
	_, err := st.Enqueue(ctx, spec(libraryID, "a", model.P1), now, time.Second, 100, 1)
	require.NoError(t, err)

	out, err := st.Enqueue(ctx, spec(libraryID, "b", model.P3), now, time.Second, 100, 1)
	require.NoError(t, err)
	require.True(t, out.Shed)
}
