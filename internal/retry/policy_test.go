// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrex-media/scanorchestrator/internal/config"
)

func s4Config() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       5,
		BackoffBaseMs:     100,
		BackoffMaxMs:      10_000,
		JitterRatio:       0.25,
		JitterMinMs:       1,
		FastRetryAttempts: 0,
		FastRetryFactor:   1,
	}
}

func TestPolicy_S4RetryWithJitter(t *testing.T) {
	p := NewPolicy(s4Config())

	d1 := p.Decide(true, 1, false)
	require.False(t, d1.DeadLetter)
	require.True(t, d1.Delay >= 75*time.Millisecond && d1.Delay <= 125*time.Millisecond, "d1=%v", d1.Delay)

	d2 := p.Decide(true, 2, false)
	require.True(t, d2.Delay >= 150*time.Millisecond && d2.Delay <= 250*time.Millisecond, "d2=%v", d2.Delay)

	d3 := p.Decide(true, 3, false)
	require.True(t, d3.Delay >= 300*time.Millisecond && d3.Delay <= 500*time.Millisecond, "d3=%v", d3.Delay)
}

func TestPolicy_NonRetryableDeadLetters(t *testing.T) {
	p := NewPolicy(s4Config())
	d := p.Decide(false, 1, false)
	require.True(t, d.DeadLetter)
	require.Zero(t, d.Delay)
}

func TestPolicy_MaxAttemptsDeadLetters(t *testing.T) {
	p := NewPolicy(s4Config())
	d := p.Decide(true, 5, false)
	require.True(t, d.DeadLetter)
}

func TestPolicy_BackoffClampedToMax(t *testing.T) {
	cfg := s4Config()
	cfg.BackoffMaxMs = 1000
	cfg.JitterRatio = 0
	cfg.JitterMinMs = 0
	p := NewPolicy(cfg)
	d := p.Decide(true, 10, false)
	require.LessOrEqual(t, d.Delay, 1000*time.Millisecond)
}

func TestPolicy_FastRetryShrinksBase(t *testing.T) {
	cfg := s4Config()
	cfg.FastRetryAttempts = 2
	cfg.FastRetryFactor = 0.5
	cfg.JitterRatio = 0
	cfg.JitterMinMs = 0
	p := NewPolicy(cfg)

	fast := p.Decide(true, 1, false)
	require.Equal(t, 50*time.Millisecond, fast.Delay)

	normal := NewPolicy(func() config.RetryConfig {
		c := cfg
		c.FastRetryAttempts = 0
		return c
	}()).Decide(true, 1, false)
	require.Equal(t, 100*time.Millisecond, normal.Delay)
}

func TestPolicy_HeavyLibrarySlowdown(t *testing.T) {
	cfg := s4Config()
	cfg.JitterRatio = 0
	cfg.JitterMinMs = 0
	cfg.HeavyLibrarySlowdownFactor = 2.0
	p := NewPolicy(cfg)

	light := p.Decide(true, 1, false)
	heavy := p.Decide(true, 1, true)
	require.Equal(t, light.Delay*2, heavy.Delay)
}
