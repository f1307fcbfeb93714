// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "fmt"

// Validate checks semantic invariants Defaults + a decoded document cannot
// violate by construction: positive limits, sane watermark ordering, sane
// weights. Returns an error wrapping ErrInvalidConfig on the first problem.
func Validate(cfg *Config) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("%w: postgres_dsn is required", ErrInvalidConfig)
	}
	if cfg.WorkerID == "" {
		return fmt.Errorf("%w: worker_id is required", ErrInvalidConfig)
	}

	if cfg.Queue.HighWatermark <= 0 || cfg.Queue.CriticalWatermark <= 0 {
		return fmt.Errorf("%w: queue watermarks must be positive", ErrInvalidConfig)
	}
	if cfg.Queue.CriticalWatermark < cfg.Queue.HighWatermark {
		return fmt.Errorf("%w: critical_watermark must be >= high_watermark", ErrInvalidConfig)
	}
	if cfg.Queue.CoalesceWindowMs < 0 {
		return fmt.Errorf("%w: coalesce_window_ms must be >= 0", ErrInvalidConfig)
	}
	if cfg.Queue.DefaultLibraryCap <= 0 {
		return fmt.Errorf("%w: default_library_cap must be positive", ErrInvalidConfig)
	}
	if cfg.Queue.DefaultLibraryWeight <= 0 {
		return fmt.Errorf("%w: default_library_weight must be positive", ErrInvalidConfig)
	}
	for name, ov := range cfg.Queue.LibraryOverrides {
		if ov.Cap <= 0 || ov.Weight <= 0 {
			return fmt.Errorf("%w: library_overrides[%s] must have positive cap and weight", ErrInvalidConfig, name)
		}
	}

	w := cfg.PriorityWeights
	if w.P0 <= 0 || w.P1 <= 0 || w.P2 <= 0 || w.P3 <= 0 {
		return fmt.Errorf("%w: priority_weights must all be positive", ErrInvalidConfig)
	}

	r := cfg.Retry
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry.max_attempts must be positive", ErrInvalidConfig)
	}
	if r.BackoffBaseMs <= 0 || r.BackoffMaxMs <= 0 || r.BackoffMaxMs < r.BackoffBaseMs {
		return fmt.Errorf("%w: retry backoff bounds are invalid", ErrInvalidConfig)
	}
	if r.JitterRatio < 0 {
		return fmt.Errorf("%w: retry.jitter_ratio must be >= 0", ErrInvalidConfig)
	}
	if r.FastRetryFactor < 0 || r.FastRetryFactor > 1 {
		return fmt.Errorf("%w: retry.fast_retry_factor must be in [0,1]", ErrInvalidConfig)
	}
	if r.HeavyLibrarySlowdownFactor < 1 {
		return fmt.Errorf("%w: retry.heavy_library_slowdown_factor must be >= 1", ErrInvalidConfig)
	}

	l := cfg.Lease
	if l.LeaseTTLSecs <= 0 {
		return fmt.Errorf("%w: lease.lease_ttl_secs must be positive", ErrInvalidConfig)
	}
	if l.RenewAtFraction <= 0 || l.RenewAtFraction >= 1 {
		return fmt.Errorf("%w: lease.renew_at_fraction must be in (0,1)", ErrInvalidConfig)
	}
	if l.HousekeeperIntervalMs <= 0 {
		return fmt.Errorf("%w: lease.housekeeper_interval_ms must be positive", ErrInvalidConfig)
	}

	b := cfg.Budget
	if b.LibraryScanLimit <= 0 || b.MediaAnalysisLimit <= 0 || b.MetadataLimit <= 0 ||
		b.IndexingLimit <= 0 || b.ImageFetchLimit <= 0 {
		return fmt.Errorf("%w: budget limits must all be positive", ErrInvalidConfig)
	}
	if b.MetadataMaxQPS <= 0 {
		return fmt.Errorf("%w: budget.metadata_max_qps must be positive", ErrInvalidConfig)
	}

	if cfg.Watch.DebounceWindowMs < 0 || cfg.Watch.MaxBatchEvents <= 0 || cfg.Watch.PollIntervalMs <= 0 {
		return fmt.Errorf("%w: watch config values must be sane", ErrInvalidConfig)
	}

	if cfg.BulkMode.SpeedupFactor <= 0 || cfg.BulkMode.MaintenancePartitionCount <= 0 {
		return fmt.Errorf("%w: bulk_mode config values must be positive", ErrInvalidConfig)
	}

	return nil
}
