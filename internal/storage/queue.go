package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	enqueueJobSQL = `INSERT INTO jobs (id, kind, payload, run_id, status)
    VALUES ($1, $2, $3, $4, 'pending');`

	dequeueJobSQL = `UPDATE jobs
    SET status = 'running', attempts = attempts + 1, locked_until = $2
    WHERE id = (
        SELECT id FROM jobs
        WHERE kind = ANY($1)
          AND status = 'pending'
        ORDER BY created_at
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    )
    RETURNING id, kind, payload, run_id, status, attempts, error, locked_until, created_at, finished_at;`

	ackJobSQL = `UPDATE jobs
    SET status = $2, error = $3, locked_until = NULL, finished_at = $4
    WHERE id = $1;`

	countUnfinishedChildrenSQL = `SELECT COUNT(*) FROM jobs
    WHERE run_id = $1
      AND status IN ('pending', 'running');`

	countFailedChildrenSQL = `SELECT COUNT(*) FROM jobs
    WHERE run_id = $1
      AND status = 'failed';`

	countAllChildrenSQL = `SELECT COUNT(*) FROM jobs WHERE run_id = $1;`

	hasUnfinishedSQL = `SELECT EXISTS (
        SELECT 1 FROM jobs WHERE kind = $1 AND status IN ('pending', 'running')
    );`

	reapStaleJobsSQL = `UPDATE jobs
    SET status = 'pending', locked_until = NULL
    WHERE status = 'running'
      AND locked_until IS NOT NULL
      AND locked_until < $1;`

	getJobSQL = `SELECT id, kind, payload, run_id, status, attempts, error, locked_until, created_at, finished_at
    FROM jobs
    WHERE id = $1;`
)

// ErrJobNotFound indicates the job id has no row.
var ErrJobNotFound = errors.New("storage: job not found")

// JobQueue is the durable at-least-once dispatch boundary. Delivery order is
// best-effort FIFO; consumers must tolerate redelivery after a lease expires.
type JobQueue interface {
	Enqueue(ctx context.Context, kind JobKind, payload any, runID *uuid.UUID) (uuid.UUID, error)
	Dequeue(ctx context.Context, kinds []JobKind, lease time.Duration) (*Job, error)
	Ack(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	CountUnfinishedChildren(ctx context.Context, runID uuid.UUID) (int64, error)
	CountFailedChildren(ctx context.Context, runID uuid.UUID) (int64, error)
	CountAllChildren(ctx context.Context, runID uuid.UUID) (int64, error)
	HasUnfinished(ctx context.Context, kind JobKind) (bool, error)
	ReapStale(ctx context.Context) (int64, error)
}

// Enqueue inserts one pending job and returns its id.
func (s *Store) Enqueue(ctx context.Context, kind JobKind, payload any, runID *uuid.UUID) (uuid.UUID, error) {
	pool, err := s.getPool()
	if err != nil {
		return uuid.Nil, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode job payload: %w", err)
	}

	id := uuid.New()
	if _, execErr := pool.Exec(ctx, enqueueJobSQL, id, kind, encoded, runID); execErr != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", execErr)
	}
	return id, nil
}

// Dequeue leases the oldest pending job of the given kinds, or nil when the
// queue is empty. The lease keeps crashed consumers from losing the job: a
// reaper returns expired leases to pending.
func (s *Store) Dequeue(ctx context.Context, kinds []JobKind, lease time.Duration) (*Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	kindStrings := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrings[i] = string(k)
	}

	lockedUntil := time.Now().UTC().Add(lease)
	row := pool.QueryRow(ctx, dequeueJobSQL, kindStrings, lockedUntil)
	job, scanErr := scanJobRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue job: %w", scanErr)
	}
	return &job, nil
}

// Ack records the terminal state of a leased job.
func (s *Store) Ack(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("ack with non-terminal status %q", status)
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var msg interface{}
	if errMsg != "" {
		msg = errMsg
	}
	tag, execErr := pool.Exec(ctx, ackJobSQL, id, status, msg, time.Now().UTC())
	if execErr != nil {
		return fmt.Errorf("ack job: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob fetches one job row.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return Job{}, err
	}
	row := pool.QueryRow(ctx, getJobSQL, id)
	job, scanErr := scanJobRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("get job: %w", scanErr)
	}
	return job, nil
}

// CountUnfinishedChildren counts non-terminal child jobs of a digest run.
// The fan-in barrier polls this, so it survives orchestrator restarts.
func (s *Store) CountUnfinishedChildren(ctx context.Context, runID uuid.UUID) (int64, error) {
	return s.countChildren(ctx, countUnfinishedChildrenSQL, runID)
}

// CountFailedChildren counts terminally failed child jobs of a digest run.
func (s *Store) CountFailedChildren(ctx context.Context, runID uuid.UUID) (int64, error) {
	return s.countChildren(ctx, countFailedChildrenSQL, runID)
}

// CountAllChildren counts child jobs of a digest run in any state. A
// redelivered digest job uses this to avoid fanning out twice.
func (s *Store) CountAllChildren(ctx context.Context, runID uuid.UUID) (int64, error) {
	return s.countChildren(ctx, countAllChildrenSQL, runID)
}

// HasUnfinished reports whether any job of the kind is pending or running.
// The scheduled tick uses this so repeated coarse ticks do not pile up
// digest requests while one is still in flight.
func (s *Store) HasUnfinished(ctx context.Context, kind JobKind) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasUnfinishedSQL, kind).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("check unfinished jobs: %w", scanErr)
	}
	return exists, nil
}

func (s *Store) countChildren(ctx context.Context, query string, runID uuid.UUID) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, query, runID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count children: %w", scanErr)
	}
	return count, nil
}

// ReapStale returns expired running leases to pending and reports how many.
func (s *Store) ReapStale(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, reapStaleJobsSQL, time.Now().UTC())
	if execErr != nil {
		return 0, fmt.Errorf("reap stale jobs: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanJobRow(row pgx.Row) (Job, error) {
	var j Job
	if err := row.Scan(
		&j.ID,
		&j.Kind,
		&j.Payload,
		&j.RunID,
		&j.Status,
		&j.Attempts,
		&j.Error,
		&j.LockedUntil,
		&j.CreatedAt,
		&j.FinishedAt,
	); err != nil {
		return Job{}, err
	}
	return j, nil
}

var _ JobQueue = (*Store)(nil)
