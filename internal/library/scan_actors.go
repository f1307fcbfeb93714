// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ferrex-media/scanorchestrator/internal/actor"
	"github.com/ferrex-media/scanorchestrator/internal/budget"
	"github.com/ferrex-media/scanorchestrator/internal/fsutil"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/scanerr"
	"github.com/ferrex-media/scanorchestrator/internal/watch"
)

// FolderScanActor implements the follow-up cascade spec.md §4.7 describes:
// a FolderScan at path P returns a FolderScan follow-up for each immediate
// child directory and a MediaAnalyze follow-up for each media file,
// grounded on the teacher's deleted scan.Manager.scanInternal iteration
// (list, classify, produce a result per entry, never abort the batch on one
// entry's failure).
type FolderScanActor struct {
	// Budget enforces the supplemented per-device scan concurrency cap
	// (SPEC_FULL.md §12.1). Nil disables the cap entirely.
	Budget *budget.Manager
}

func (a FolderScanActor) Execute(ctx context.Context, job *model.Job) (actor.ExecutionOutcome, error) {
	payload, ok := job.Payload.(model.FolderScanPayload)
	if !ok {
		return actor.ExecutionOutcome{}, scanerr.NonRetryable("bad_payload", nil)
	}

	if a.Budget != nil {
		deviceID := deviceIDForPath(payload.Path)
		if !a.Budget.TryAcquireDevice(deviceID) {
			return actor.ExecutionOutcome{}, scanerr.Retryable("device_scan_cap_saturated", nil)
		}
		defer a.Budget.ReleaseDevice(deviceID)
	}

	entries, err := os.ReadDir(payload.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return actor.ExecutionOutcome{}, scanerr.NonRetryable("path_missing", err)
		}
		return actor.ExecutionOutcome{}, scanerr.Retryable("readdir_failed", err)
	}

	logger := log.WithContext(ctx, log.WithComponent("folder_scan_actor"))

	var followUps []model.JobSpec
	var domainEvents []model.DomainEvent
	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey}

	for _, e := range entries {
		childPath := filepath.Join(payload.Path, e.Name())
		if payload.Root != "" {
			confined, cerr := fsutil.ConfineAbsPath(payload.Root, childPath)
			if cerr != nil {
				logger.Warn().Err(cerr).Str("path", childPath).Msg("folder scan: child path escapes library root, skipping")
				continue
			}
			childPath = confined
		}
		if e.IsDir() {
			followUps = append(followUps, model.JobSpec{
				Kind: model.KindFolderScan, LibraryID: job.LibraryID, Priority: job.Priority,
				DedupeKey:     model.NormalizePath(childPath),
				Payload:       model.FolderScanPayload{Path: childPath, Root: payload.Root, Partition: payload.Partition},
				CorrelationID: job.CorrelationID,
			})
			domainEvents = append(domainEvents, model.DomainEvent{Kind: model.DomainFolderDiscovered, Meta: meta, Data: map[string]any{"path": childPath}})
			continue
		}
		if !watch.IsVideoFile(childPath) {
			continue
		}
		followUps = append(followUps, model.JobSpec{
			Kind: model.KindMediaAnalyze, LibraryID: job.LibraryID, Priority: job.Priority,
			DedupeKey: model.NormalizePath(childPath), Payload: model.MediaAnalyzePayload{Path: childPath},
			CorrelationID: job.CorrelationID,
		})
		domainEvents = append(domainEvents, model.DomainEvent{Kind: model.DomainMediaFileDiscovered, Meta: meta, Data: map[string]any{"path": childPath}})
	}

	domainEvents = append(domainEvents, model.DomainEvent{Kind: model.DomainFolderScanCompleted, Meta: meta, Data: map[string]any{"path": payload.Path, "entries": len(entries)}})
	return actor.ExecutionOutcome{FollowUps: followUps, DomainEvents: domainEvents}, nil
}

// MediaAnalyzeActor checks that one media file still exists (a missing file
// is a non-retryable failure, any other stat error a retryable one) and
// returns a MetadataEnrich follow-up for it. It does not inspect the file's
// extension or contents and derives no content type; container probing
// lives outside this repository per spec.md §1's external-collaborators
// list.
type MediaAnalyzeActor struct{}

func (MediaAnalyzeActor) Execute(_ context.Context, job *model.Job) (actor.ExecutionOutcome, error) {
	payload, ok := job.Payload.(model.MediaAnalyzePayload)
	if !ok {
		return actor.ExecutionOutcome{}, scanerr.NonRetryable("bad_payload", nil)
	}
	if _, err := os.Stat(payload.Path); err != nil {
		if os.IsNotExist(err) {
			return actor.ExecutionOutcome{}, scanerr.NonRetryable("path_missing", err)
		}
		return actor.ExecutionOutcome{}, scanerr.Retryable("stat_failed", err)
	}

	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey}
	followUp := model.JobSpec{
		Kind: model.KindMetadataEnrich, LibraryID: job.LibraryID, Priority: job.Priority,
		DedupeKey:     payload.Path,
		Payload:       model.MetadataEnrichPayload{CandidateID: filepath.Base(payload.Path), Path: payload.Path},
		CorrelationID: job.CorrelationID,
	}
	return actor.ExecutionOutcome{
		FollowUps:    []model.JobSpec{followUp},
		DomainEvents: []model.DomainEvent{{Kind: model.DomainMediaAnalyzed, Meta: meta, Data: map[string]any{"path": payload.Path}}},
	}, nil
}

// MetadataEnrichActor stands in for the TMDB metadata client (external
// collaborator, spec.md §1): it returns an IndexUpsert follow-up carrying a
// minimal AnalysisOutput so the pipeline's topology is exercised end to end
// without this repository reaching out to a real provider.
type MetadataEnrichActor struct{}

func (MetadataEnrichActor) Execute(_ context.Context, job *model.Job) (actor.ExecutionOutcome, error) {
	payload, ok := job.Payload.(model.MetadataEnrichPayload)
	if !ok {
		return actor.ExecutionOutcome{}, scanerr.NonRetryable("bad_payload", nil)
	}

	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey}
	followUp := model.JobSpec{
		Kind: model.KindIndexUpsert, LibraryID: job.LibraryID, Priority: job.Priority,
		DedupeKey: payload.Path,
		Payload: model.IndexUpsertPayload{
			Path: payload.Path,
			Analysis: model.AnalysisOutput{
				ContentType: "video",
				Attributes:  map[string]string{"candidate_id": payload.CandidateID},
			},
		},
		CorrelationID: job.CorrelationID,
	}
	return actor.ExecutionOutcome{
		FollowUps:    []model.JobSpec{followUp},
		DomainEvents: []model.DomainEvent{{Kind: model.DomainMediaReadyForIndex, Meta: meta, Data: map[string]any{"path": payload.Path}}},
	}, nil
}

// IndexUpsertActor is a terminal actor: it reports the item indexed via a
// domain event and has no follow-ups. The real search/catalog index is an
// external collaborator; this repository only drives the pipeline that
// would feed one.
type IndexUpsertActor struct{}

func (IndexUpsertActor) Execute(_ context.Context, job *model.Job) (actor.ExecutionOutcome, error) {
	payload, ok := job.Payload.(model.IndexUpsertPayload)
	if !ok {
		return actor.ExecutionOutcome{}, scanerr.NonRetryable("bad_payload", nil)
	}
	meta := model.EventMeta{Version: model.EventMetaVersion, LibraryID: job.LibraryID, PathKey: job.PathKey}
	return actor.ExecutionOutcome{
		DomainEvents: []model.DomainEvent{{Kind: model.DomainIndexed, Meta: meta, Data: map[string]any{"path": payload.Path, "content_type": payload.Analysis.ContentType}}},
	}, nil
}

// ImageFetchActor is a terminal actor standing in for the image blob store
// (external collaborator, spec.md §1).
type ImageFetchActor struct{}

func (ImageFetchActor) Execute(_ context.Context, job *model.Job) (actor.ExecutionOutcome, error) {
	if _, ok := job.Payload.(model.ImageFetchPayload); !ok {
		return actor.ExecutionOutcome{}, scanerr.NonRetryable("bad_payload", nil)
	}
	return actor.ExecutionOutcome{}, nil
}
