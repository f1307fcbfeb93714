// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/model"
)

func allBucketsReady() map[model.Priority]bool {
	return map[model.Priority]bool{model.P0: true, model.P1: true, model.P2: true, model.P3: true}
}

func TestScheduler_PriorityShareApproximatesWeights(t *testing.T) {
	s := New(config.PriorityWeights{P0: 8, P1: 4, P2: 2, P3: 1})
	lib := uuid.New()
	libraries := []LibraryInfo{{LibraryID: lib, Weight: 1, InFlight: 0, Cap: 1000, HasReady: allBucketsReady()}}

	counts := map[model.Priority]int{}
	const total = 15_000
	for i := 0; i < total; i++ {
		sel := s.Choose(libraries)
		require.NotNil(t, sel)
		counts[sel.Priority]++
	}

	ratio := float64(counts[model.P0]) / float64(counts[model.P3])
	require.InDelta(t, 8.0, ratio, 0.5)
}

func TestScheduler_SkipsLibraryAtCap(t *testing.T) {
	s := New(config.PriorityWeights{P0: 1, P1: 1, P2: 1, P3: 1})
	full := uuid.New()
	open := uuid.New()
	libraries := []LibraryInfo{
		{LibraryID: full, Weight: 1, InFlight: 5, Cap: 5, HasReady: allBucketsReady()},
		{LibraryID: open, Weight: 1, InFlight: 0, Cap: 5, HasReady: allBucketsReady()},
	}

	for i := 0; i < 20; i++ {
		sel := s.Choose(libraries)
		require.NotNil(t, sel)
		require.Equal(t, open, sel.LibraryID)
	}
}

func TestScheduler_EmptyBucketPreservesCredit(t *testing.T) {
	s := New(config.PriorityWeights{P0: 2, P1: 2, P2: 2, P3: 2})
	lib := uuid.New()
	libraries := []LibraryInfo{{
		LibraryID: lib, Weight: 1, InFlight: 0, Cap: 10,
		HasReady: map[model.Priority]bool{model.P0: false, model.P1: false, model.P2: false, model.P3: true},
	}}

	for i := 0; i < 8; i++ {
		sel := s.Choose(libraries)
		require.NotNil(t, sel)
		require.Equal(t, model.P3, sel.Priority)
	}

	// P0-P2 never had eligible work, so none of their credit was consumed.
	require.Equal(t, 2, s.credit[model.P0])
	require.Equal(t, 2, s.credit[model.P1])
	require.Equal(t, 2, s.credit[model.P2])
}

func TestScheduler_NoEligibleLibraryReturnsNil(t *testing.T) {
	s := New(config.PriorityWeights{P0: 1, P1: 1, P2: 1, P3: 1})
	require.Nil(t, s.Choose(nil))

	lib := uuid.New()
	libraries := []LibraryInfo{{LibraryID: lib, Weight: 1, InFlight: 3, Cap: 3, HasReady: allBucketsReady()}}
	require.Nil(t, s.Choose(libraries))
}
