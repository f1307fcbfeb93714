// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// ErrUnknownConfigField is wrapped into errors returned when the YAML
// decoder rejects a field not present in the Config schema.
var ErrUnknownConfigField = errors.New("unknown config field")

// ErrInvalidConfig is wrapped into errors returned when a value fails
// semantic validation (e.g. a non-positive limit). Configuration errors are
// fatal at startup: the orchestrator refuses to run rather than guess.
var ErrInvalidConfig = errors.New("invalid config")
