// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "jobs")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), "jobs", "hello"))

	select {
	case msg := <-sub.C():
		require.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBus_PublishWithNoSubscribersNoops(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Publish(context.Background(), "unsubscribed", "hello"))
}

func TestMemoryBus_PublishRejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	//lint:ignore SA1012 exercising the explicit nil-context guard
	err := b.Publish(nil, "jobs", "hello")
	require.Error(t, err)
}

func TestMemoryBus_PublishCancelledContextReturnsError(t *testing.T) {
	b := NewMemoryBus()
	// Unbuffered relative to this test: subscribe but never drain, so the
	// bus blocks on send until ctx is canceled.
	sub, err := b.Subscribe(context.Background(), "jobs")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 64; i++ {
		require.NoError(t, b.Publish(context.Background(), "jobs", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = b.Publish(ctx, "jobs", "overflow")
	require.Error(t, err)
}

func TestMemoryBus_CloseUnsubscribes(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "jobs")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, b.Publish(context.Background(), "jobs", "hello"))
}
