// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watch defines the narrow interface the library actor consumes for
// watch-triggered scans. Per spec.md §1, the real filesystem watcher is an
// external collaborator; this package's FSNotifySource is a reference
// adapter for local development and tests, not a spec component.
package watch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the filesystem change a watched path observed,
// grounded on original_source/ferrex-core/src/scanner/file_watcher.rs's
// FileWatchEventType (Created/Modified/Deleted; renames are reported as a
// delete+create pair since notify-style watchers rarely deliver a reliable
// rename event across platforms).
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is one already-debounced filesystem change handed to the library
// actor. The orchestrator core never touches raw OS-level watch events.
type Event struct {
	LibraryID uuid.UUID
	Path      string
	Type      EventType
	DetectedAt time.Time
}

// EventSource is the interface the library actor depends on; the
// orchestrator core has no fsnotify or OS dependency beyond this.
type EventSource interface {
	// Events returns a channel of debounced, batched filesystem events.
	// The channel is closed when the source stops.
	Events() <-chan Event
}

// videoExtensions mirrors the original source's is_video_file allow-list.
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".flv": true, ".wmv": true, ".m4v": true, ".mpg": true, ".mpeg": true,
}

// IsVideoFile reports whether path has a recognized video extension.
// Deletion events bypass this check upstream since the file no longer
// exists to inspect.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
