// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry implements the attempt-counting, exponential-backoff-with-
// jitter policy the queue service consults on job failure, including the
// fast-retry and heavy-library-slowdown refinements (spec.md §4.6).
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/ferrex-media/scanorchestrator/internal/config"
)

// Decision is the retry policy's verdict for one failed attempt.
type Decision struct {
	// DeadLetter is true when the job must transition directly to
	// DeadLettered instead of being requeued.
	DeadLetter bool
	// Delay is the backoff to add to now to compute the job's new
	// available_at. Zero when DeadLetter is true.
	Delay time.Duration
}

// Policy evaluates failures against the configured retry envelope.
type Policy struct {
	cfg  config.RetryConfig
	rand *rand.Rand
}

// NewPolicy builds a Policy from the resolved retry configuration.
func NewPolicy(cfg config.RetryConfig) *Policy {
	return &Policy{cfg: cfg, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Decide evaluates one failed attempt. attempts is the count including this
// failure (i.e. already incremented). retryable comes from the actor's
// reported failure classification; libraryHeavy is true when the owning
// library currently has more than heavy_library_attempt_threshold jobs with
// attempts > 1 (the queue service computes this, the policy only applies
// the multiplier).
func (p *Policy) Decide(retryable bool, attempts int, libraryHeavy bool) Decision {
	if !retryable || attempts >= p.cfg.MaxAttempts {
		return Decision{DeadLetter: true}
	}
	return Decision{Delay: p.backoff(attempts, libraryHeavy)}
}

// backoff computes delay = backoff_base * 2^(attempt-1), clamped to
// backoff_max, with the fast-retry factor applied to the base for the first
// fast_retry_attempts failures, the heavy-library slowdown multiplier
// applied on top, and symmetric jitter of at least jitter_min_ms.
func (p *Policy) backoff(attempt int, heavy bool) time.Duration {
	base := float64(p.cfg.BackoffBaseMs)
	if attempt <= p.cfg.FastRetryAttempts {
		base *= p.cfg.FastRetryFactor
	}

	delay := base * math.Pow(2, float64(attempt-1))
	if max := float64(p.cfg.BackoffMaxMs); delay > max {
		delay = max
	}
	if heavy {
		delay *= p.cfg.HeavyLibrarySlowdownFactor
	}

	jitter := delay * p.cfg.JitterRatio
	if min := float64(p.cfg.JitterMinMs); jitter < min {
		jitter = min
	}
	offset := (p.rand.Float64()*2 - 1) * jitter

	final := delay + offset
	if final < 0 {
		final = 0
	}
	return time.Duration(final) * time.Millisecond
}
