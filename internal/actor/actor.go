// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package actor defines the dispatcher's contract for executing one job:
// an actor consumes a typed payload and returns follow-up work plus domain
// events, never touching the store or bus directly. Grounded on the
// teacher's deleted internal/pipeline/worker.Handler interface shape
// (execute-then-report), generalized from a single handler per pipeline
// stage to a per-kind registry.
package actor

import (
	"context"
	"fmt"

	"github.com/ferrex-media/scanorchestrator/internal/model"
)

// ExecutionOutcome is everything an actor reports back to the dispatcher
// after processing one job. FollowUps are enqueued only after the
// dispatcher's Complete call persists them alongside the parent's
// completion (spec.md §9); DomainEvents are republished verbatim.
type ExecutionOutcome struct {
	FollowUps    []model.JobSpec
	DomainEvents []model.DomainEvent
}

// Actor executes one job's payload. A returned error is classified via
// scanerr.Failure to decide retry vs. dead-letter; a bare error that carries
// no scanerr.Failure is treated as retryable, with reason "unclassified".
type Actor interface {
	Execute(ctx context.Context, job *model.Job) (ExecutionOutcome, error)
}

// Registry maps a job kind to the actor responsible for it.
type Registry struct {
	actors map[model.Kind]Actor
}

// NewRegistry builds an empty actor registry.
func NewRegistry() *Registry {
	return &Registry{actors: make(map[model.Kind]Actor)}
}

// Register binds kind to actor. Registering the same kind twice panics,
// since it indicates a wiring bug at startup, not a runtime condition.
func (r *Registry) Register(kind model.Kind, a Actor) {
	if _, exists := r.actors[kind]; exists {
		panic(fmt.Sprintf("actor: kind %q already registered", kind))
	}
	r.actors[kind] = a
}

// Lookup returns the actor registered for kind, or false if none is.
func (r *Registry) Lookup(kind model.Kind) (Actor, bool) {
	a, ok := r.actors[kind]
	return a, ok
}
