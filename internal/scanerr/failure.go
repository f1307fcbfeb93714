// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scanerr carries the {retryable, reason} classification actors
// attach to failures, so the queue and dispatcher can decide requeue versus
// dead-letter without inspecting error strings.
package scanerr

import (
	"errors"
	"fmt"
)

// Failure is the error an actor returns when its execution did not succeed.
// Retryable distinguishes transient infrastructure failures from
// application failures the retry policy should not re-attempt.
type Failure struct {
	Retryable bool
	Reason    string
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable wraps err as a transient, retry-eligible failure.
func Retryable(reason string, err error) *Failure {
	return &Failure{Retryable: true, Reason: reason, Err: err}
}

// NonRetryable wraps err as an application failure the retry policy must
// send directly to the dead-letter state.
func NonRetryable(reason string, err error) *Failure {
	return &Failure{Retryable: false, Reason: reason, Err: err}
}

// As reports whether err is (or wraps) a *Failure, matching the teacher's
// sentinel-error idiom of recovering a typed carrier via errors.As rather
// than panicking on an unexpected error shape.
func As(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
