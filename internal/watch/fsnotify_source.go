// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/log"
)

// FSNotifySource is a reference EventSource backed by fsnotify, debouncing
// rapid-fire events per path within debounce_window_ms and forwarding at
// most max_batch_events per window. Not a spec component (see package doc);
// provided so the library actor has something real to run against locally.
type FSNotifySource struct {
	libraryID uuid.UUID
	watcher   *fsnotify.Watcher
	out       chan Event
	cfg       config.WatchConfig
}

// NewFSNotifySource creates a watcher recursively watching root for
// libraryID and begins debouncing events into the returned source's channel.
// Callers must call Close when done.
func NewFSNotifySource(ctx context.Context, libraryID uuid.UUID, root string, cfg config.WatchConfig) (*FSNotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(w, root); err != nil {
		_ = w.Close()
		return nil, err
	}

	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = 1024
	}
	if cfg.DebounceWindowMs <= 0 {
		cfg.DebounceWindowMs = 250
	}

	s := &FSNotifySource{
		libraryID: libraryID,
		watcher:   w,
		out:       make(chan Event, cfg.MaxBatchEvents),
		cfg:       cfg,
	}
	go s.debounceLoop(ctx)
	return s, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// Events satisfies EventSource.
func (s *FSNotifySource) Events() <-chan Event { return s.out }

// Close stops the underlying fsnotify watcher. The event channel closes once
// the debounce loop observes it.
func (s *FSNotifySource) Close() error {
	return s.watcher.Close()
}

func (s *FSNotifySource) debounceLoop(ctx context.Context) {
	defer close(s.out)

	window := time.Duration(s.cfg.DebounceWindowMs) * time.Millisecond
	pending := make(map[string]Event)
	timer := time.NewTimer(window)
	timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		n := 0
		for _, evt := range pending {
			if n >= s.cfg.MaxBatchEvents {
				break
			}
			select {
			case s.out <- evt:
				n++
			default:
				log.WithComponent("watch").Warn().Str("path", evt.Path).Msg("event dropped, channel full")
			}
		}
		pending = make(map[string]Event)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case fsEvt, ok := <-s.watcher.Events:
			if !ok {
				flush()
				return
			}
			evtType, handled := classify(fsEvt)
			if !handled {
				continue
			}
			if evtType != EventDeleted && !IsVideoFile(fsEvt.Name) {
				continue
			}
			pending[fsEvt.Name] = Event{
				LibraryID: s.libraryID, Path: fsEvt.Name, Type: evtType, DetectedAt: time.Now(),
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(window)
		case <-timer.C:
			flush()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				flush()
				return
			}
			log.WithComponent("watch").Error().Err(err).Msg("fsnotify error")
		}
	}
}

func classify(evt fsnotify.Event) (EventType, bool) {
	switch {
	case evt.Op&fsnotify.Create != 0:
		return EventCreated, true
	case evt.Op&fsnotify.Write != 0:
		return EventModified, true
	case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return EventDeleted, true
	default:
		return "", false
	}
}
