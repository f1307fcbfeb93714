// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"time"

	"github.com/google/uuid"
)

// EventMeta is carried on every envelope published to the bus. Correlation
// ids propagate: a follow-up job inherits its parent's correlation id unless
// the submitter overrides it.
type EventMeta struct {
	Version        int       `json:"version"`
	CorrelationID  string    `json:"correlation_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	LibraryID      uuid.UUID `json:"library_id"`
	PathKey        string    `json:"path_key,omitempty"`
}

const EventMetaVersion = 1

// EventKind discriminates the closed set of job lifecycle transitions.
type EventKind string

const (
	EventEnqueued       EventKind = "Enqueued"
	EventMerged         EventKind = "Merged"
	EventDequeued       EventKind = "Dequeued"
	EventLeaseRenewed   EventKind = "LeaseRenewed"
	EventLeaseExpired   EventKind = "LeaseExpired"
	EventCompleted      EventKind = "Completed"
	EventFailed         EventKind = "Failed"
	EventDeadLettered   EventKind = "DeadLettered"
	EventThroughputTick EventKind = "ThroughputTick"
)

// JobEvent is the typed payload published for one job's lifecycle
// transition. The bus carries only the retryable flag on failure, never the
// underlying error message, so internals do not leak to subscribers.
type JobEvent struct {
	Meta        EventMeta      `json:"meta"`
	Kind        EventKind      `json:"kind"`
	JobID       uuid.UUID      `json:"job_id"`
	Retryable   bool           `json:"retryable,omitempty"`
	QueueDepths map[Kind]int   `json:"queue_depths,omitempty"`
	SampledAt   time.Time      `json:"sampled_at,omitempty"`
}

// DomainEventKind discriminates events actors emit describing progress
// through the implicit scan pipeline, distinct from job lifecycle events.
type DomainEventKind string

const (
	DomainFolderDiscovered    DomainEventKind = "FolderDiscovered"
	DomainMediaFileDiscovered DomainEventKind = "MediaFileDiscovered"
	DomainFolderScanCompleted DomainEventKind = "FolderScanCompleted"
	DomainMediaAnalyzed       DomainEventKind = "MediaAnalyzed"
	DomainMediaReadyForIndex  DomainEventKind = "MediaReadyForIndex"
	DomainIndexed             DomainEventKind = "Indexed"
)

// DomainEvent carries actor-reported domain progress on a distinct topic
// namespace from job lifecycle events. The dispatcher republishes whatever
// an actor's ExecutionOutcome returns without interpreting it.
type DomainEvent struct {
	Kind DomainEventKind `json:"kind"`
	Meta EventMeta       `json:"meta"`
	Data map[string]any  `json:"data,omitempty"`
}

// JobLifecycleTopic and DomainEventTopic are the bus topics job events and
// domain events are published under.
const (
	JobLifecycleTopic = "orchestrator.job_events"
	DomainEventTopic  = "orchestrator.domain_events"
)
