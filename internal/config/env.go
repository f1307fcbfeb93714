// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"

	"github.com/ferrex-media/scanorchestrator/internal/log"
)

// envLookup abstracts os.LookupEnv so tests can inject a fake environment
// without mutating process-global state.
type envLookup func(key string) (string, bool)

// applyEnvOverlay overrides the top-level scalar fields with environment
// variables when present, logging which source won for observability,
// mirroring the teacher's parseStringWithLogger idiom.
func applyEnvOverlay(cfg *Config, lookup envLookup) {
	logger := log.WithComponent("config")

	if v, ok := lookup("FERREX_POSTGRES_DSN"); ok && v != "" {
		logger.Debug().Str("key", "FERREX_POSTGRES_DSN").Str("source", "environment").Msg("overriding postgres_dsn")
		cfg.PostgresDSN = v
	}
	if v, ok := lookup("FERREX_WORKER_ID"); ok && v != "" {
		logger.Debug().Str("key", "FERREX_WORKER_ID").Str("source", "environment").Msg("overriding worker_id")
		cfg.WorkerID = v
	}
	if v, ok := lookup("FERREX_LOG_LEVEL"); ok && v != "" {
		logger.Debug().Str("key", "FERREX_LOG_LEVEL").Str("source", "environment").Msg("overriding log_level")
		cfg.LogLevel = v
	}
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
