// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"

	"github.com/ferrex-media/scanorchestrator/internal/fsm"
)

// LifecycleEvent names one edge in a job's state graph.
type LifecycleEvent string

const (
	EventLease      LifecycleEvent = "lease"
	EventComplete   LifecycleEvent = "complete"
	EventRetry      LifecycleEvent = "retry"
	EventDeadLetter LifecycleEvent = "dead_letter"
	EventRequeue    LifecycleEvent = "requeue"
)

// LifecycleTransitions is the canonical job state graph: Ready and Leased
// are the only states a live job occupies, Completed is terminal, and
// Requeue is the only path back out of DeadLettered.
var LifecycleTransitions = []fsm.Transition[State, LifecycleEvent]{
	{From: StateReady, Event: EventLease, To: StateLeased},
	{From: StateLeased, Event: EventComplete, To: StateCompleted},
	{From: StateLeased, Event: EventRetry, To: StateReady},
	{From: StateLeased, Event: EventDeadLetter, To: StateDeadLettered},
	{From: StateReady, Event: EventDeadLetter, To: StateDeadLettered},
	{From: StateDeadLettered, Event: EventRequeue, To: StateReady},
}

// Advance validates and executes one job lifecycle transition. The store
// holds the authoritative State field on the job row; the fsm.Machine built
// here is disposable transition-graph data, constructed fresh per call so
// the store never has to keep a long-lived Machine per job around.
func Advance(ctx context.Context, from State, event LifecycleEvent) (State, error) {
	m, err := fsm.New(from, LifecycleTransitions)
	if err != nil {
		return from, err
	}
	return m.Fire(ctx, event)
}
