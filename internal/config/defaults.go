// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "runtime"

// Defaults returns a Config populated with the orchestrator's resolved
// defaults (SPEC_FULL.md §4.1a), against which a YAML document and the
// environment overlay are applied.
func Defaults() Config {
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}
	return Config{
		LogLevel: "info",
		Queue: QueueConfig{
			MaxParallelScans:          6,
			MaxParallelAnalyses:       4,
			MaxParallelMetadata:       4,
			MaxParallelIndex:          1,
			MaxParallelImageFetch:     8,
			MaxParallelScansPerDevice: 16,
			HighWatermark:             10_000,
			CriticalWatermark:         20_000,
			CoalesceWindowMs:          100,
			DefaultLibraryCap:         32,
			DefaultLibraryWeight:      1,
		},
		PriorityWeights: PriorityWeights{P0: 8, P1: 4, P2: 2, P3: 1},
		Retry: RetryConfig{
			MaxAttempts:                  5,
			BackoffBaseMs:                2_000,
			BackoffMaxMs:                 300_000,
			JitterRatio:                  0.25,
			JitterMinMs:                  250,
			FastRetryAttempts:            2,
			FastRetryFactor:              0.35,
			HeavyLibraryAttemptThreshold: 4,
			HeavyLibrarySlowdownFactor:   1.8,
		},
		Lease: LeaseConfig{
			LeaseTTLSecs:          30,
			RenewAtFraction:       0.5,
			RenewMinMarginMs:      2_000,
			HousekeeperIntervalMs: 15_000,
		},
		Budget: BudgetConfig{
			LibraryScanLimit:   1,
			MediaAnalysisLimit: 4,
			MetadataLimit:      2 * cpus,
			IndexingLimit:      cpus,
			ImageFetchLimit:    4,
			MetadataMaxQPS:     10,
		},
		Watch: WatchConfig{
			DebounceWindowMs: 250,
			MaxBatchEvents:   1024,
			PollIntervalMs:   30_000,
		},
		BulkMode: BulkModeConfig{
			SpeedupFactor:             1.5,
			MaintenancePartitionCount: 4,
		},
	}
}
