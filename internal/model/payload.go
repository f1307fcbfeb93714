// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"path"
	"strings"
)

// Payload is the sealed set of job payload variants. Each job kind carries
// exactly one concrete payload type; the dispatcher never has to look up
// further context to invoke an actor beyond the library id.
type Payload interface {
	isPayload()
	Kind() Kind
}

type FolderScanPayload struct {
	Path string `json:"path"`

	// Root is the library root this scan descends from, used to confine
	// recursive child paths (fsutil.ConfineAbsPath) so a symlink inside the
	// library can never walk the scan outside it.
	Root string `json:"root,omitempty"`

	// Partition is the bulk-seed stripe this job (and its FolderScan
	// follow-ups) belongs to, carried forward so the bulk-mode speedup tier
	// (SPEC_FULL.md §12.2) stays attached to the whole sub-tree a seeded
	// root child spawns, not just its first-generation job.
	Partition int `json:"partition,omitempty"`
}

func (FolderScanPayload) isPayload() {}
func (FolderScanPayload) Kind() Kind { return KindFolderScan }

type MediaAnalyzePayload struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
}

func (MediaAnalyzePayload) isPayload() {}
func (MediaAnalyzePayload) Kind() Kind { return KindMediaAnalyze }

type SeriesResolvePayload struct {
	SeriesKey string `json:"series_key"`
}

func (SeriesResolvePayload) isPayload() {}
func (SeriesResolvePayload) Kind() Kind { return KindSeriesResolve }

type MetadataEnrichPayload struct {
	CandidateID string `json:"candidate_id"`
	Path        string `json:"path"`
}

func (MetadataEnrichPayload) isPayload() {}
func (MetadataEnrichPayload) Kind() Kind { return KindMetadataEnrich }

type AnalysisOutput struct {
	ContentType string            `json:"content_type"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type IndexUpsertPayload struct {
	Path     string         `json:"path"`
	Analysis AnalysisOutput `json:"analysis"`
}

func (IndexUpsertPayload) isPayload() {}
func (IndexUpsertPayload) Kind() Kind { return KindIndexUpsert }

type ImageFetchPayload struct {
	ImageID string `json:"image_id"`
}

func (ImageFetchPayload) isPayload() {}
func (ImageFetchPayload) Kind() Kind { return KindImageFetch }

type EpisodeMatchPayload struct {
	SeriesKey string `json:"series_key"`
	Path      string `json:"path"`
}

func (EpisodeMatchPayload) isPayload() {}
func (EpisodeMatchPayload) Kind() Kind { return KindEpisodeMatch }

// NormalizePath collapses a filesystem path to the canonical slash-separated
// form used for dedupe keys and path_key observability fields.
func NormalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// StablePathKey derives the human-readable path_key attached to events for a
// given payload: a normalized path, or an opaque identifier for image fetches
// and series-level work that has no single filesystem path.
func StablePathKey(p Payload) string {
	switch v := p.(type) {
	case FolderScanPayload:
		return NormalizePath(v.Path)
	case MediaAnalyzePayload:
		return NormalizePath(v.Path)
	case MetadataEnrichPayload:
		return NormalizePath(v.Path)
	case IndexUpsertPayload:
		return NormalizePath(v.Path)
	case ImageFetchPayload:
		return v.ImageID
	case SeriesResolvePayload:
		return v.SeriesKey
	case EpisodeMatchPayload:
		return NormalizePath(v.Path)
	default:
		return ""
	}
}
