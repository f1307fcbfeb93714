// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"fmt"
	"os"
	"syscall"
)

// deviceIDForPath derives a best-effort device bucket for a scan path from
// its Unix stat device number, grounded on the teacher's
// internal/api/recordings.go direct use of syscall.Statfs for filesystem
// facts. Returns "" when the path cannot be stat'd or the platform's
// FileInfo.Sys() doesn't carry a *syscall.Stat_t; callers treat "" as the
// budget manager's own "unknown" fallback bucket.
func deviceIDForPath(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}
	return fmt.Sprintf("dev-%d", stat.Dev)
}
