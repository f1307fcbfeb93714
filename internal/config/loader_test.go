// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoader_DefaultsAndEnvOverlay(t *testing.T) {
	path := writeTempConfig(t, "postgres_dsn: postgres://localhost/ferrex\nworker_id: w1\n")
	lookup := func(key string) (string, bool) {
		if key == "FERREX_LOG_LEVEL" {
			return "debug", true
		}
		return "", false
	}

	cfg, err := NewLoaderWithEnv(path, lookup).Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 6, cfg.Queue.MaxParallelScans)
	require.Equal(t, 8, cfg.PriorityWeights.P0)
}

func TestLoader_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "postgres_dsn: postgres://localhost/ferrex\nworker_id: w1\nbogus_field: 1\n")
	_, err := NewLoaderWithEnv(path, func(string) (string, bool) { return "", false }).Load()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownConfigField))
}

func TestLoader_RequiresPostgresDSN(t *testing.T) {
	path := writeTempConfig(t, "worker_id: w1\n")
	_, err := NewLoaderWithEnv(path, func(string) (string, bool) { return "", false }).Load()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate_WatermarkOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.PostgresDSN = "postgres://x"
	cfg.WorkerID = "w1"
	cfg.Queue.HighWatermark = 100
	cfg.Queue.CriticalWatermark = 50
	err := Validate(&cfg)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidConfig))
}
