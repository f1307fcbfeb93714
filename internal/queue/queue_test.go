// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/store"
)

// recordingBus is a minimal Publisher that records every envelope for
// assertions without needing the real bus implementation.
type recordingBus struct {
	mu   sync.Mutex
	msgs []recorded
}

type recorded struct {
	topic string
	msg   interface{}
}

func (b *recordingBus) Publish(_ context.Context, topic string, msg interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, recorded{topic: topic, msg: msg})
	return nil
}

func (b *recordingBus) jobEvents() []model.JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.JobEvent
	for _, m := range b.msgs {
		if m.topic == model.JobLifecycleTopic {
			out = append(out, *m.msg.(*model.JobEvent))
		}
	}
	return out
}

// alwaysCapacity grants every workload capacity; used by tests that don't
// exercise the budget-saturation path.
type alwaysCapacity struct{}

func (alwaysCapacity) HasCapacity(model.WorkloadType) bool { return true }

// noCapacity never grants capacity.
type noCapacity struct{}

func (noCapacity) HasCapacity(model.WorkloadType) bool { return false }

func testConfig() config.Config {
	return config.Config{
		Queue: config.QueueConfig{
			HighWatermark:        100,
			CriticalWatermark:    3,
			CoalesceWindowMs:     1000,
			DefaultLibraryCap:    5,
			DefaultLibraryWeight: 1,
		},
		PriorityWeights: config.PriorityWeights{P0: 8, P1: 4, P2: 2, P3: 1},
		Retry: config.RetryConfig{
			MaxAttempts:                  5,
			BackoffBaseMs:                100,
			BackoffMaxMs:                 10_000,
			JitterRatio:                  0,
			JitterMinMs:                  0,
			HeavyLibraryAttemptThreshold: 10,
			HeavyLibrarySlowdownFactor:   1,
		},
	}
}

func newTestService() (*Service, *store.FakeQueueStore, *recordingBus) {
	st := store.NewFakeQueueStore()
	bus := &recordingBus{}
	svc := New(st, bus, alwaysCapacity{}, testConfig())
	return svc, st, bus
}

func folderSpec(libraryID uuid.UUID, dedupeKey string, priority model.Priority) model.JobSpec {
	return model.JobSpec{
		Kind:      model.KindFolderScan,
		LibraryID: libraryID,
		Priority:  priority,
		DedupeKey: dedupeKey,
		Payload:   model.FolderScanPayload{Path: "/media/" + dedupeKey},
	}
}

func TestService_EnqueueValidatesSpec(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, model.JobSpec{Kind: "bogus"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Enqueue(ctx, model.JobSpec{Kind: model.KindFolderScan, LibraryID: uuid.New(), DedupeKey: "x", Payload: model.ImageFetchPayload{ImageID: "i"}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestService_EnqueueDequeueRoundTrip(t *testing.T) {
	svc, _, bus := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()

	handle, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P1))
	require.NoError(t, err)
	require.False(t, handle.Shed)
	require.NotEqual(t, uuid.Nil, handle.JobID)

	job, lease, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)
	require.Equal(t, handle.JobID, job.JobID)
	require.NotEqual(t, uuid.Nil, lease.LeaseID)

	events := bus.jobEvents()
	require.Len(t, events, 2)
	require.Equal(t, model.EventEnqueued, events[0].Kind)
	require.Equal(t, model.EventDequeued, events[1].Kind)
}

func TestService_DequeueEmptyReturnsNoCandidate(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, err := svc.Dequeue(context.Background(), DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestService_DequeueHonorsBudgetSaturation(t *testing.T) {
	st := store.NewFakeQueueStore()
	bus := &recordingBus{}
	svc := New(st, bus, noCapacity{}, testConfig())
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, folderSpec(uuid.New(), "a", model.P0))
	require.NoError(t, err)

	_, _, err = svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestService_EnqueueCoalescesSameDedupeKey(t *testing.T) {
	svc, st, bus := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()

	h1, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P2))
	require.NoError(t, err)

	h2, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P0))
	require.NoError(t, err)
	require.NotNil(t, h2.MergedInto)
	require.Equal(t, h1.JobID, *h2.MergedInto)

	jobs := st.Snapshot()
	require.Len(t, jobs, 1)
	require.Equal(t, model.P0, jobs[0].Priority)

	events := bus.jobEvents()
	require.Equal(t, model.EventEnqueued, events[0].Kind)
	require.Equal(t, model.EventMerged, events[1].Kind)
}

func TestService_ShedsLowPriorityAboveCriticalWatermark(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, folderSpec(uuid.New(), string(rune('a'+i)), model.P1))
		require.NoError(t, err)
	}

	h, err := svc.Enqueue(ctx, folderSpec(uuid.New(), "shed-me", model.P3))
	require.NoError(t, err)
	require.True(t, h.Shed)
}

func TestService_CompleteWithFollowUpsPublishesChildren(t *testing.T) {
	svc, _, bus := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()

	_, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P1))
	require.NoError(t, err)

	job, lease, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)

	followUp := model.JobSpec{
		Kind:      model.KindMediaAnalyze,
		LibraryID: libraryID,
		Priority:  model.P1,
		DedupeKey: "child-1",
		Payload:   model.MediaAnalyzePayload{Path: "/media/a/f.mkv"},
	}
	handles, err := svc.Complete(ctx, lease.LeaseID, job, []model.JobSpec{followUp})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	require.False(t, handles[0].Shed)

	var sawCompleted, sawChildEnqueued bool
	for _, e := range bus.jobEvents() {
		if e.Kind == model.EventCompleted && e.JobID == job.JobID {
			sawCompleted = true
		}
		if e.Kind == model.EventEnqueued && e.JobID == handles[0].JobID {
			sawChildEnqueued = true
		}
	}
	require.True(t, sawCompleted)
	require.True(t, sawChildEnqueued)
}

func TestService_FailRetriesThenDeadLetters(t *testing.T) {
	svc, st, bus := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 2

	retryPolicy := retry.NewPolicy(cfg.Retry)
	svc = New(st, bus, alwaysCapacity{}, cfg)

	_, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P1))
	require.NoError(t, err)

	job, lease, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)

	updated, err := svc.Fail(ctx, lease.LeaseID, job, true, "boom", retryPolicy)
	require.NoError(t, err)
	require.Equal(t, model.StateReady, updated.State)

	// The retry pushed available_at out by the backoff; move the clock past it.
	svc.SetClock(func() time.Time { return time.Now().Add(time.Minute) })

	job2, lease2, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)

	final, err := svc.Fail(ctx, lease2.LeaseID, job2, true, "boom again", retryPolicy)
	require.NoError(t, err)
	require.Equal(t, model.StateDeadLettered, final.State)
}

func TestService_FailNonRetryableDeadLettersImmediately(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()
	retryPolicy := retry.NewPolicy(testConfig().Retry)

	_, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P1))
	require.NoError(t, err)

	job, lease, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)

	final, err := svc.Fail(ctx, lease.LeaseID, job, false, "fatal", retryPolicy)
	require.NoError(t, err)
	require.Equal(t, model.StateDeadLettered, final.State)
}

func TestService_RequeueResetsAttempts(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()
	libraryID := uuid.New()
	retryPolicy := retry.NewPolicy(testConfig().Retry)

	_, err := svc.Enqueue(ctx, folderSpec(libraryID, "a", model.P1))
	require.NoError(t, err)
	job, lease, err := svc.Dequeue(ctx, DequeueRequest{Kind: model.KindFolderScan, WorkerID: "w1", LeaseTTL: time.Minute})
	require.NoError(t, err)
	_, err = svc.Fail(ctx, lease.LeaseID, job, false, "fatal", retryPolicy)
	require.NoError(t, err)

	requeued, err := svc.Requeue(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, model.StateReady, requeued.State)
	require.Zero(t, requeued.Attempts)

	jobs := st.Snapshot()
	require.Len(t, jobs, 1)
}
