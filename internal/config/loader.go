// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads a Config from an optional YAML file layered over Defaults(),
// then an environment-variable overlay, then semantic validation.
type Loader struct {
	path   string
	lookup envLookup
}

// NewLoader returns a Loader reading the given YAML file path (empty path
// means defaults + environment only).
func NewLoader(path string) *Loader {
	return &Loader{path: path, lookup: osLookup}
}

// NewLoaderWithEnv is NewLoader with an injectable environment lookup, used
// by tests that should not depend on process-global environment state.
func NewLoaderWithEnv(path string, lookup envLookup) *Loader {
	return &Loader{path: path, lookup: lookup}
}

// Load resolves the final Config. Unknown YAML fields are rejected via
// yaml.v3's KnownFields(true) decoder option; configuration errors are
// returned rather than panicking, since the caller is expected to treat a
// load failure as fatal at startup.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", l.path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w: %v", l.path, ErrUnknownConfigField, err)
		}
	}

	lookup := l.lookup
	if lookup == nil {
		lookup = osLookup
	}
	applyEnvOverlay(&cfg, lookup)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
