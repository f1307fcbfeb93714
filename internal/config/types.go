// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the orchestrator's YAML configuration
// surface, strictly rejecting unknown fields to surface typos rather than
// silently ignoring them.
package config

// Config is the root configuration document.
type Config struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	WorkerID    string `yaml:"worker_id"`
	LogLevel    string `yaml:"log_level"`

	Queue           QueueConfig     `yaml:"queue"`
	PriorityWeights PriorityWeights `yaml:"priority_weights"`
	Retry           RetryConfig     `yaml:"retry"`
	Lease           LeaseConfig     `yaml:"lease"`
	Budget          BudgetConfig    `yaml:"budget"`
	Watch           WatchConfig     `yaml:"watch"`
	BulkMode        BulkModeConfig  `yaml:"bulk_mode"`
}

// LibraryOverride overrides the default fairness cap/weight for one library.
type LibraryOverride struct {
	Cap    int `yaml:"cap"`
	Weight int `yaml:"weight"`
}

// QueueConfig controls worker pool sizing, watermarks and fairness defaults.
type QueueConfig struct {
	MaxParallelScans          int `yaml:"max_parallel_scans"`
	MaxParallelAnalyses       int `yaml:"max_parallel_analyses"`
	MaxParallelMetadata       int `yaml:"max_parallel_metadata"`
	MaxParallelIndex          int `yaml:"max_parallel_index"`
	MaxParallelImageFetch     int `yaml:"max_parallel_image_fetch"`
	MaxParallelScansPerDevice int `yaml:"max_parallel_scans_per_device"`

	HighWatermark     int `yaml:"high_watermark"`
	CriticalWatermark int `yaml:"critical_watermark"`
	CoalesceWindowMs  int `yaml:"coalesce_window_ms"`

	DefaultLibraryCap    int                        `yaml:"default_library_cap"`
	DefaultLibraryWeight int                        `yaml:"default_library_weight"`
	LibraryOverrides     map[string]LibraryOverride `yaml:"library_overrides"`
}

// PriorityWeights are the weighted round-robin credits per bucket.
type PriorityWeights struct {
	P0 int `yaml:"p0"`
	P1 int `yaml:"p1"`
	P2 int `yaml:"p2"`
	P3 int `yaml:"p3"`
}

// RetryConfig controls backoff, jitter and the fast-retry / heavy-library
// refinements.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffMaxMs  int `yaml:"backoff_max_ms"`

	JitterRatio float64 `yaml:"jitter_ratio"`
	JitterMinMs int     `yaml:"jitter_min_ms"`

	FastRetryAttempts int     `yaml:"fast_retry_attempts"`
	FastRetryFactor   float64 `yaml:"fast_retry_factor"`

	HeavyLibraryAttemptThreshold int     `yaml:"heavy_library_attempt_threshold"`
	HeavyLibrarySlowdownFactor   float64 `yaml:"heavy_library_slowdown_factor"`
}

// LeaseConfig controls lease TTL and renewal/housekeeping cadence.
type LeaseConfig struct {
	LeaseTTLSecs          int     `yaml:"lease_ttl_secs"`
	RenewAtFraction       float64 `yaml:"renew_at_fraction"`
	RenewMinMarginMs      int     `yaml:"renew_min_margin_ms"`
	HousekeeperIntervalMs int     `yaml:"housekeeper_interval_ms"`
}

// BudgetConfig holds per-workload concurrency limits plus the metadata QPS
// limiter, which is independent of the concurrency budget (§12.3).
type BudgetConfig struct {
	LibraryScanLimit   int `yaml:"library_scan_limit"`
	MediaAnalysisLimit int `yaml:"media_analysis_limit"`
	MetadataLimit      int `yaml:"metadata_limit"`
	IndexingLimit      int `yaml:"indexing_limit"`
	ImageFetchLimit    int `yaml:"image_fetch_limit"`

	MetadataMaxQPS float64 `yaml:"metadata_max_qps"`
}

// WatchConfig controls the debounce/batch parameters the (external)
// filesystem watcher is expected to honor before handing batches to the
// library actor.
type WatchConfig struct {
	DebounceWindowMs int `yaml:"debounce_window_ms"`
	MaxBatchEvents   int `yaml:"max_batch_events"`
	PollIntervalMs   int `yaml:"poll_interval_ms"`
}

// BulkModeConfig tunes the supplemented bulk-seed catch-up behavior (§12.2).
type BulkModeConfig struct {
	SpeedupFactor             float64 `yaml:"speedup_factor"`
	MaintenancePartitionCount int     `yaml:"maintenance_partition_count"`
}
