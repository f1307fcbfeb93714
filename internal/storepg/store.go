// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storepg is the Postgres-backed implementation of store.Store
// (spec.md §9's durability requirement). It is grounded on two patterns from
// the retrieved example pack: the INSERT ... ON CONFLICT DO NOTHING /
// UPDATE ... RETURNING coalescing idiom from Outblock-flowindex's
// postgres-backed lease repository, and the SELECT ... FOR UPDATE SKIP
// LOCKED dequeue idiom from mycelian-ai's outbox worker. Connection setup
// (sqlx.Connect("pgx", ...) plus pool tuning) follows kubernaut's
// integration-test harness.
package storepg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/scheduler"
	"github.com/ferrex-media/scanorchestrator/internal/store"
)

// Store is a Postgres-backed store.Store. All mutating operations run in a
// single transaction per call, matching the interface's documented
// guarantee.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn via pgx's database/sql driver, tunes the connection
// pool the way the retrieved integration-test harness does, and applies any
// pending migrations before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storepg: connect: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storepg: ping: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

type jobRow struct {
	JobID         uuid.UUID `db:"job_id"`
	Kind          string    `db:"kind"`
	Payload       []byte    `db:"payload"`
	LibraryID     uuid.UUID `db:"library_id"`
	Priority      int       `db:"priority"`
	DedupeKey     string    `db:"dedupe_key"`
	Attempts      int       `db:"attempts"`
	State         string    `db:"state"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	AvailableAt   time.Time `db:"available_at"`
	PathKey       string    `db:"path_key"`
	LastError     string    `db:"last_error"`
	CorrelationID string    `db:"correlation_id"`
}

func (r jobRow) toModel() (*model.Job, error) {
	payload, err := unmarshalPayload(model.Kind(r.Kind), r.Payload)
	if err != nil {
		return nil, err
	}
	return &model.Job{
		JobID:         r.JobID,
		Kind:          model.Kind(r.Kind),
		Payload:       payload,
		LibraryID:     r.LibraryID,
		Priority:      model.Priority(r.Priority),
		DedupeKey:     r.DedupeKey,
		Attempts:      r.Attempts,
		State:         model.State(r.State),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		AvailableAt:   r.AvailableAt,
		PathKey:       r.PathKey,
		LastError:     r.LastError,
		CorrelationID: r.CorrelationID,
	}, nil
}

const jobColumns = `job_id, kind, payload, library_id, priority, dedupe_key, attempts, state,
	created_at, updated_at, available_at, path_key, last_error, correlation_id`

type leaseRow struct {
	LeaseID   uuid.UUID `db:"lease_id"`
	JobID     uuid.UUID `db:"job_id"`
	WorkerID  string    `db:"worker_id"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Renewals  int       `db:"renewals"`
}

func (r leaseRow) toModel() *model.Lease {
	return &model.Lease{
		LeaseID: r.LeaseID, JobID: r.JobID, WorkerID: r.WorkerID,
		IssuedAt: r.IssuedAt, ExpiresAt: r.ExpiresAt, Renewals: r.Renewals,
	}
}

// Enqueue implements store.Store.Enqueue inside its own transaction.
func (s *Store) Enqueue(ctx context.Context, spec model.JobSpec, now time.Time, coalesceWindow time.Duration, highWatermark, criticalWatermark int) (*store.EnqueueOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storepg: enqueue begin: %w", err)
	}
	defer tx.Rollback()

	out, err := enqueueTx(ctx, tx, spec, now, highWatermark, criticalWatermark)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storepg: enqueue commit: %w", err)
	}
	return out, nil
}

// enqueueTx implements §4.2's enqueue/coalesce/shed decision inside an
// already-open transaction, so CompleteWithFollowUps can reuse it for every
// follow-up spec without a nested transaction.
func enqueueTx(ctx context.Context, tx *sqlx.Tx, spec model.JobSpec, now time.Time, highWatermark, criticalWatermark int) (*store.EnqueueOutcome, error) {
	var existing jobRow
	err := tx.GetContext(ctx, &existing, `
		SELECT `+jobColumns+` FROM orchestrator_jobs
		WHERE library_id = $1 AND dedupe_key = $2 AND state IN ('ready', 'leased')
		FOR UPDATE`, spec.LibraryID, spec.DedupeKey)
	switch {
	case err == nil:
		return coalesceInto(ctx, tx, existing, spec.Priority, now)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("storepg: enqueue: find live: %w", err)
	}

	var depth int
	if err := tx.GetContext(ctx, &depth, `
		SELECT count(*) FROM orchestrator_jobs
		WHERE kind = $1 AND state IN ('ready', 'leased')`, string(spec.Kind)); err != nil {
		return nil, fmt.Errorf("storepg: enqueue: depth: %w", err)
	}

	lowPriority := spec.Priority == model.P2 || spec.Priority == model.P3

	if lowPriority && depth >= highWatermark {
		var any jobRow
		err := tx.GetContext(ctx, &any, `
			SELECT `+jobColumns+` FROM orchestrator_jobs
			WHERE library_id = $1 AND kind = $2 AND state IN ('ready', 'leased')
			FOR UPDATE LIMIT 1`, spec.LibraryID, string(spec.Kind))
		switch {
		case err == nil:
			return coalesceInto(ctx, tx, any, spec.Priority, now)
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("storepg: enqueue: eager coalesce: %w", err)
		}
	}

	if depth >= criticalWatermark && lowPriority {
		return &store.EnqueueOutcome{Shed: true}, nil
	}

	payload, err := marshalPayload(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("storepg: enqueue: marshal payload: %w", err)
	}

	row := jobRow{
		JobID: model.NewJobID(), Kind: string(spec.Kind), Payload: payload,
		LibraryID: spec.LibraryID, Priority: int(spec.Priority), DedupeKey: spec.DedupeKey,
		State: string(model.StateReady), CreatedAt: now, UpdatedAt: now, AvailableAt: now,
		PathKey: model.StablePathKey(spec.Payload), CorrelationID: spec.CorrelationID,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO orchestrator_jobs (`+jobColumns+`)
		VALUES (:job_id, :kind, :payload, :library_id, :priority, :dedupe_key, :attempts, :state,
			:created_at, :updated_at, :available_at, :path_key, :last_error, :correlation_id)`, row)
	if err != nil {
		return nil, fmt.Errorf("storepg: enqueue: insert: %w", err)
	}

	job, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &store.EnqueueOutcome{Job: job}, nil
}

func coalesceInto(ctx context.Context, tx *sqlx.Tx, existing jobRow, incoming model.Priority, now time.Time) (*store.EnqueueOutcome, error) {
	priority := model.Max(model.Priority(existing.Priority), incoming)
	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestrator_jobs SET priority = $1, updated_at = $2 WHERE job_id = $3`,
		int(priority), now, existing.JobID); err != nil {
		return nil, fmt.Errorf("storepg: enqueue: coalesce update: %w", err)
	}
	existing.Priority = int(priority)
	existing.UpdatedAt = now
	job, err := existing.toModel()
	if err != nil {
		return nil, err
	}
	id := job.JobID
	return &store.EnqueueOutcome{Job: job, Coalesced: true, MergedInto: &id}, nil
}

// LibraryStates implements store.Store.LibraryStates. Aggregation happens in
// Go over one scan of the kind's live rows, mirroring FakeQueueStore's
// in-memory equivalent rather than a hand-rolled aggregate query, since the
// per-priority HasReady map does not collapse cleanly into SQL GROUP BY.
func (s *Store) LibraryStates(ctx context.Context, kind model.Kind, now time.Time, defaultCap, defaultWeight int, overrides map[string]store.LibraryOverride) ([]scheduler.LibraryInfo, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT library_id, priority, state, available_at FROM orchestrator_jobs
		WHERE kind = $1 AND state IN ('ready', 'leased')`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("storepg: library states: %w", err)
	}
	defer rows.Close()

	byLib := make(map[uuid.UUID]*scheduler.LibraryInfo)
	get := func(id uuid.UUID) *scheduler.LibraryInfo {
		if li, ok := byLib[id]; ok {
			return li
		}
		cap, weight := defaultCap, defaultWeight
		if ov, ok := overrides[id.String()]; ok {
			if ov.Cap > 0 {
				cap = ov.Cap
			}
			if ov.Weight > 0 {
				weight = ov.Weight
			}
		}
		li := &scheduler.LibraryInfo{LibraryID: id, Weight: weight, Cap: cap, HasReady: map[model.Priority]bool{}}
		byLib[id] = li
		return li
	}

	for rows.Next() {
		var libraryID uuid.UUID
		var priority int
		var state string
		var availableAt time.Time
		if err := rows.Scan(&libraryID, &priority, &state, &availableAt); err != nil {
			return nil, fmt.Errorf("storepg: library states: scan: %w", err)
		}
		li := get(libraryID)
		switch model.State(state) {
		case model.StateLeased:
			li.InFlight++
		case model.StateReady:
			if !availableAt.After(now) {
				li.HasReady[model.Priority(priority)] = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storepg: library states: rows: %w", err)
	}

	out := make([]scheduler.LibraryInfo, 0, len(byLib))
	for _, li := range byLib {
		out = append(out, *li)
	}
	return out, nil
}

// Dequeue implements store.Store.Dequeue using SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent workers never contend on the same candidate row.
func (s *Store) Dequeue(ctx context.Context, kind model.Kind, sel scheduler.Selector, workerID string, leaseTTL time.Duration, now time.Time) (*model.Job, *model.Lease, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue begin: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM orchestrator_jobs
		WHERE kind = $1 AND library_id = $2 AND priority = $3 AND state = 'ready' AND available_at <= $4
		ORDER BY created_at, job_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, string(kind), sel.LibraryID, int(sel.Priority), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrNoCandidate
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue: select: %w", err)
	}

	if _, err := model.Advance(ctx, model.State(row.State), model.EventLease); err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestrator_jobs SET state = $1, updated_at = $2 WHERE job_id = $3`,
		string(model.StateLeased), now, row.JobID); err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue: update: %w", err)
	}
	row.State = string(model.StateLeased)
	row.UpdatedAt = now

	lease := leaseRow{
		LeaseID: uuid.New(), JobID: row.JobID, WorkerID: workerID,
		IssuedAt: now, ExpiresAt: now.Add(leaseTTL), Renewals: 0,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO orchestrator_leases (lease_id, job_id, worker_id, issued_at, expires_at, renewals)
		VALUES (:lease_id, :job_id, :worker_id, :issued_at, :expires_at, :renewals)`, lease); err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue: insert lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("storepg: dequeue commit: %w", err)
	}

	job, err := row.toModel()
	if err != nil {
		return nil, nil, err
	}
	return job, lease.toModel(), nil
}

// Renew implements store.Store.Renew.
func (s *Store) Renew(ctx context.Context, leaseID uuid.UUID, extension time.Duration, now time.Time) (*model.Lease, error) {
	var row leaseRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE orchestrator_leases SET expires_at = $1, renewals = renewals + 1
		WHERE lease_id = $2 AND expires_at >= $3
		RETURNING lease_id, job_id, worker_id, issued_at, expires_at, renewals`,
		now.Add(extension), leaseID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("storepg: renew: %w", err)
	}
	return row.toModel(), nil
}

// CompleteWithFollowUps implements store.Store.CompleteWithFollowUps:
// transitions the leased job to Completed and persists every follow-up spec
// in the same transaction.
func (s *Store) CompleteWithFollowUps(ctx context.Context, leaseID uuid.UUID, followUps []model.JobSpec, now time.Time, coalesceWindow time.Duration, highWatermark, criticalWatermark int) ([]*store.EnqueueOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storepg: complete begin: %w", err)
	}
	defer tx.Rollback()

	var lease leaseRow
	if err := tx.GetContext(ctx, &lease, `
		SELECT lease_id, job_id, worker_id, issued_at, expires_at, renewals
		FROM orchestrator_leases WHERE lease_id = $1 FOR UPDATE`, leaseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrLeaseLost
		}
		return nil, fmt.Errorf("storepg: complete: find lease: %w", err)
	}

	var row jobRow
	if err := tx.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM orchestrator_jobs WHERE job_id = $1 FOR UPDATE`, lease.JobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("storepg: complete: find job: %w", err)
	}

	if _, err := model.Advance(ctx, model.State(row.State), model.EventComplete); err != nil {
		return nil, fmt.Errorf("storepg: complete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestrator_jobs SET state = $1, updated_at = $2 WHERE job_id = $3`,
		string(model.StateCompleted), now, row.JobID); err != nil {
		return nil, fmt.Errorf("storepg: complete: update job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orchestrator_leases WHERE lease_id = $1`, leaseID); err != nil {
		return nil, fmt.Errorf("storepg: complete: delete lease: %w", err)
	}

	outcomes := make([]*store.EnqueueOutcome, 0, len(followUps))
	for _, spec := range followUps {
		out, err := enqueueTx(ctx, tx, spec, now, highWatermark, criticalWatermark)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storepg: complete commit: %w", err)
	}
	return outcomes, nil
}

// Fail implements store.Store.Fail.
func (s *Store) Fail(ctx context.Context, leaseID uuid.UUID, decision retry.Decision, lastError string, now time.Time) (*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storepg: fail begin: %w", err)
	}
	defer tx.Rollback()

	var lease leaseRow
	if err := tx.GetContext(ctx, &lease, `
		SELECT lease_id, job_id, worker_id, issued_at, expires_at, renewals
		FROM orchestrator_leases WHERE lease_id = $1 FOR UPDATE`, leaseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrLeaseLost
		}
		return nil, fmt.Errorf("storepg: fail: find lease: %w", err)
	}

	var row jobRow
	if err := tx.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM orchestrator_jobs WHERE job_id = $1 FOR UPDATE`, lease.JobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("storepg: fail: find job: %w", err)
	}

	event := model.EventRetry
	if decision.DeadLetter {
		event = model.EventDeadLetter
	}
	newState, err := model.Advance(ctx, model.State(row.State), event)
	if err != nil {
		return nil, fmt.Errorf("storepg: fail: %w", err)
	}

	attempts := row.Attempts
	availableAt := row.AvailableAt
	if !decision.DeadLetter {
		attempts++
		availableAt = now.Add(decision.Delay)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestrator_jobs
		SET state = $1, updated_at = $2, attempts = $3, available_at = $4, last_error = $5
		WHERE job_id = $6`, string(newState), now, attempts, availableAt, lastError, row.JobID); err != nil {
		return nil, fmt.Errorf("storepg: fail: update job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orchestrator_leases WHERE lease_id = $1`, leaseID); err != nil {
		return nil, fmt.Errorf("storepg: fail: delete lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storepg: fail commit: %w", err)
	}

	row.State = string(newState)
	row.Attempts = attempts
	row.AvailableAt = availableAt
	row.LastError = lastError
	row.UpdatedAt = now
	return row.toModel()
}

// ListRunningByKind implements store.Store.ListRunningByKind.
func (s *Store) ListRunningByKind(ctx context.Context, kind model.Kind) ([]*model.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM orchestrator_jobs WHERE kind = $1 AND state = 'leased'`, string(kind)); err != nil {
		return nil, fmt.Errorf("storepg: list running: %w", err)
	}
	return toModels(rows)
}

// QueueDepths implements store.Store.QueueDepths.
func (s *Store) QueueDepths(ctx context.Context) (map[model.Kind]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT kind, count(*) FROM orchestrator_jobs
		WHERE state IN ('ready', 'leased') GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("storepg: queue depths: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Kind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("storepg: queue depths: scan: %w", err)
		}
		out[model.Kind(kind)] = count
	}
	return out, rows.Err()
}

// ExpireStaleLeases implements store.Store.ExpireStaleLeases: it locks every
// expired lease whose job is still Leased, requeues the job to Ready with
// backoff, and deletes the stale lease row.
func (s *Store) ExpireStaleLeases(ctx context.Context, now time.Time, backoffFor func(job *model.Job) time.Duration) ([]*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storepg: expire begin: %w", err)
	}
	defer tx.Rollback()

	var leases []leaseRow
	if err := tx.SelectContext(ctx, &leases, `
		SELECT lease_id, job_id, worker_id, issued_at, expires_at, renewals
		FROM orchestrator_leases WHERE expires_at < $1 FOR UPDATE SKIP LOCKED`, now); err != nil {
		return nil, fmt.Errorf("storepg: expire: select leases: %w", err)
	}

	var expired []*model.Job
	for _, lease := range leases {
		var row jobRow
		err := tx.GetContext(ctx, &row, `
			SELECT `+jobColumns+` FROM orchestrator_jobs WHERE job_id = $1 FOR UPDATE`, lease.JobID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && row.State != string(model.StateLeased)) {
			if _, derr := tx.ExecContext(ctx, `DELETE FROM orchestrator_leases WHERE lease_id = $1`, lease.LeaseID); derr != nil {
				return nil, fmt.Errorf("storepg: expire: cleanup orphan lease: %w", derr)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storepg: expire: find job: %w", err)
		}

		newState, err := model.Advance(ctx, model.State(row.State), model.EventRetry)
		if err != nil {
			return nil, fmt.Errorf("storepg: expire: %w", err)
		}

		job, err := row.toModel()
		if err != nil {
			return nil, err
		}
		job.Attempts++
		job.State = newState
		job.AvailableAt = now.Add(backoffFor(job))
		job.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			UPDATE orchestrator_jobs SET state = $1, attempts = $2, available_at = $3, updated_at = $4
			WHERE job_id = $5`, string(job.State), job.Attempts, job.AvailableAt, job.UpdatedAt, job.JobID); err != nil {
			return nil, fmt.Errorf("storepg: expire: update job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM orchestrator_leases WHERE lease_id = $1`, lease.LeaseID); err != nil {
			return nil, fmt.Errorf("storepg: expire: delete lease: %w", err)
		}
		expired = append(expired, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storepg: expire commit: %w", err)
	}
	return expired, nil
}

// Requeue implements store.Store.Requeue (the administrative dead-letter
// retry, spec.md §7).
func (s *Store) Requeue(ctx context.Context, jobID uuid.UUID, now time.Time) (*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storepg: requeue begin: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM orchestrator_jobs WHERE job_id = $1 FOR UPDATE`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("storepg: requeue: find job: %w", err)
	}

	newState, err := model.Advance(ctx, model.State(row.State), model.EventRequeue)
	if err != nil {
		return nil, fmt.Errorf("storepg: requeue: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orchestrator_jobs SET state = $1, attempts = 0, available_at = $2, updated_at = $2
		WHERE job_id = $3`, string(newState), now, jobID); err != nil {
		return nil, fmt.Errorf("storepg: requeue: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storepg: requeue commit: %w", err)
	}

	row.State = string(newState)
	row.Attempts = 0
	row.AvailableAt = now
	row.UpdatedAt = now
	return row.toModel()
}

// IsLibraryHeavy implements store.Store.IsLibraryHeavy (spec.md §4.6).
func (s *Store) IsLibraryHeavy(ctx context.Context, libraryID uuid.UUID, threshold int) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM orchestrator_jobs
		WHERE library_id = $1 AND state IN ('ready', 'leased') AND attempts > 1`, libraryID); err != nil {
		return false, fmt.Errorf("storepg: is library heavy: %w", err)
	}
	return count > threshold, nil
}

func toModels(rows []jobRow) ([]*model.Job, error) {
	out := make([]*model.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
