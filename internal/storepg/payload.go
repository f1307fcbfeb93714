// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storepg

import (
	"encoding/json"
	"fmt"

	"github.com/ferrex-media/scanorchestrator/internal/model"
)

// marshalPayload serializes a job's typed payload to the JSONB column. The
// wire format is the payload's own JSON tags; the kind column disambiguates
// on the way back in, so no type tag is embedded in the JSON itself.
func marshalPayload(p model.Payload) ([]byte, error) {
	return json.Marshal(p)
}

// unmarshalPayload rebuilds the concrete Payload variant for kind from its
// stored JSON, mirroring model.Payload's closed set (payload.go).
func unmarshalPayload(kind model.Kind, raw []byte) (model.Payload, error) {
	var p model.Payload
	switch kind {
	case model.KindFolderScan:
		var v model.FolderScanPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindMediaAnalyze:
		var v model.MediaAnalyzePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindSeriesResolve:
		var v model.SeriesResolvePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindMetadataEnrich:
		var v model.MetadataEnrichPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindIndexUpsert:
		var v model.IndexUpsertPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindImageFetch:
		var v model.ImageFetchPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case model.KindEpisodeMatch:
		var v model.EpisodeMatchPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("storepg: unknown job kind %q", kind)
	}
	return p, nil
}
