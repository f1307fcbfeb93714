// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is the durable record the queue service persists. At most one row
// with State in {Ready, Leased} may exist per (LibraryID, DedupeKey).
type Job struct {
	JobID       uuid.UUID
	Kind        Kind
	Payload     Payload
	LibraryID   uuid.UUID
	Priority    Priority
	DedupeKey   string
	Attempts    int
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AvailableAt time.Time
	PathKey     string
	LastError   string

	// CorrelationID traces a unit of work back to the submission (or parent
	// job) that triggered it, copied from JobSpec at enqueue time and
	// forwarded into every follow-up spec an actor produces.
	CorrelationID string
}

// JobSpec is what a submitter hands to the queue service's enqueue operation.
type JobSpec struct {
	Kind           Kind
	LibraryID      uuid.UUID
	Priority       Priority
	DedupeKey      string
	Payload        Payload
	CorrelationID  string
	IdempotencyKey string
}

// JobHandle is returned by enqueue. MergedInto is set when the submission
// coalesced into an already-live job; Shed is set when a low-priority
// submission was rejected above the critical watermark.
type JobHandle struct {
	JobID      uuid.UUID
	Kind       Kind
	Priority   Priority
	DedupeKey  string
	LibraryID  uuid.UUID
	MergedInto *uuid.UUID
	Shed       bool
}

// Lease is a time-bounded claim on a job by a worker. At most one
// non-expired lease exists per job.
type Lease struct {
	LeaseID   uuid.UUID
	JobID     uuid.UUID
	WorkerID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Renewals  int
}

// BudgetToken is held across the execution of one unit of work and released
// on completion or failure.
type BudgetToken struct {
	WorkloadType WorkloadType
	LibraryID    uuid.UUID
	AcquiredAt   time.Time
}

// NewJobID returns a time-ordered job identifier (UUIDv7 falls back to a
// random v4 if the platform's clock read fails, which uuid.NewV7 already
// guards against internally).
func NewJobID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
