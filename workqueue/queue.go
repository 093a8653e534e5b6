// Package workqueue is the relational work queue (C6): a multi-tenant,
// per-key single-active-job queue over Postgres. It uses no ORM — every
// state transition is one conditional UPDATE ... RETURNING (or INSERT ...
// WHERE NOT EXISTS) statement, the same idiom used by the pgx CRUD code
// this module's db access is grounded on, generalized with the
// claim-the-row-atomically shape of a SQL-backed job puller.
package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
)

// ErrNotActive is returned by Complete/Fail/Cancel when the target row is
// not currently ACTIVE (already completed, failed, or claimed elsewhere).
var ErrNotActive = errors.New("workqueue: work item is not active")

// WorkItem is one row of the work_items table.
type WorkItem struct {
	ID           uuid.UUID
	Queue        string
	Key          string
	SingletonKey string
	State        domain.WorkItemState
	AvailableAt  time.Time
	VisibleUntil *time.Time
	Attempts     int
	MaxAttempts  int
	Payload      json.RawMessage
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Queue is a handle to one logical queue name backed by the shared
// work_items table; queue name provides the multi-tenancy.
type Queue struct {
	db         *dbx.DB
	backoffMin time.Duration
	backoffMax time.Duration
}

// New returns a Queue using db for storage, with the given retry backoff
// bounds.
func New(db *dbx.DB, backoffMin, backoffMax time.Duration) *Queue {
	return &Queue{db: db, backoffMin: backoffMin, backoffMax: backoffMax}
}

// pgInterval renders d as a Postgres interval literal ("N seconds"); Go's
// Duration.String() ("5m0s") is not interval syntax Postgres accepts.
func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}

// Publish inserts a WorkItem unless a non-terminal row with the same
// (queue, singletonKey) already exists, in which case it is a no-op that
// returns the existing row's id (invariant 3 / S4).
func (q *Queue) Publish(ctx context.Context, queue, key, singletonKey string, payload interface{}, maxAttempts int) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("workqueue: marshal payload: %w", err)
	}

	id := uuid.New()
	var returnedID uuid.UUID
	row := q.db.QueryRow(ctx, `
		INSERT INTO work_items (id, queue, key, singleton_key, state, available_at, attempts, max_attempts, payload)
		SELECT $1, $2, $3, $4, $5, now(), 0, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM work_items
			WHERE queue = $2 AND singleton_key = $4
			  AND state IN ('QUEUED', 'ACTIVE', 'RETRY')
		)
		RETURNING id
	`, id, queue, key, singletonKey, domain.WorkItemQueued, maxAttempts, body)

	if err := row.Scan(&returnedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return q.existingSingleton(ctx, queue, singletonKey)
		}
		return uuid.Nil, fmt.Errorf("workqueue: publish: %w", err)
	}
	return returnedID, nil
}

func (q *Queue) existingSingleton(ctx context.Context, queue, singletonKey string) (uuid.UUID, error) {
	var id uuid.UUID
	row := q.db.QueryRow(ctx, `
		SELECT id FROM work_items
		WHERE queue = $1 AND singleton_key = $2
		  AND state IN ('QUEUED', 'ACTIVE', 'RETRY')
		ORDER BY created_at DESC
		LIMIT 1
	`, queue, singletonKey)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("workqueue: lookup existing singleton: %w", err)
	}
	return id, nil
}

// Fetch atomically claims up to n eligible rows (QUEUED/RETRY with
// available_at <= now), skipping rows whose key already has an ACTIVE
// row in this queue so one slow key cannot starve the rest, and
// returns them as ACTIVE with visibleUntil stamped.
func (q *Queue) Fetch(ctx context.Context, queue string, n int, visibilityTimeout time.Duration) ([]WorkItem, error) {
	rows, err := q.db.Query(ctx, `
		WITH eligible AS (
			SELECT w.id
			FROM work_items w
			WHERE w.queue = $1
			  AND w.state IN ('QUEUED', 'RETRY')
			  AND w.available_at <= now()
			  AND NOT EXISTS (
				SELECT 1 FROM work_items a
				WHERE a.queue = w.queue AND a.key = w.key AND a.state = 'ACTIVE'
			  )
			ORDER BY w.available_at ASC, w.created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE work_items
		SET state = 'ACTIVE',
		    attempts = attempts + 1,
		    visible_until = now() + $3::interval,
		    updated_at = now()
		WHERE id IN (SELECT id FROM eligible)
		RETURNING id, queue, key, singleton_key, state, available_at, visible_until,
		          attempts, max_attempts, payload, error_message, created_at, updated_at
	`, queue, n, pgInterval(visibilityTimeout))
	if err != nil {
		return nil, fmt.Errorf("workqueue: fetch: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanWorkItem(row pgx.Rows) (WorkItem, error) {
	var item WorkItem
	var state string
	err := row.Scan(
		&item.ID, &item.Queue, &item.Key, &item.SingletonKey, &state,
		&item.AvailableAt, &item.VisibleUntil, &item.Attempts, &item.MaxAttempts,
		&item.Payload, &item.ErrorMessage, &item.CreatedAt, &item.UpdatedAt,
	)
	item.State = domain.WorkItemState(state)
	return item, err
}

// Complete transitions an ACTIVE row to COMPLETED.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE work_items
		SET state = 'COMPLETED', visible_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'ACTIVE'
	`, id)
	if err != nil {
		return fmt.Errorf("workqueue: complete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// Fail transitions an ACTIVE row to RETRY (with a backoff-computed
// available_at) unless attempts has reached max_attempts, in which case
// it transitions to FAILED with errMsg persisted.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	var attempts, maxAttempts int
	row := q.db.QueryRow(ctx, `SELECT attempts, max_attempts FROM work_items WHERE id = $1 AND state = 'ACTIVE'`, id)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotActive
		}
		return fmt.Errorf("workqueue: fail lookup %s: %w", id, err)
	}

	if attempts >= maxAttempts {
		tag, err := q.db.Pool().Exec(ctx, `
			UPDATE work_items
			SET state = 'FAILED', visible_until = NULL, error_message = $2, updated_at = now()
			WHERE id = $1 AND state = 'ACTIVE'
		`, id, errMsg)
		if err != nil {
			return fmt.Errorf("workqueue: mark failed %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotActive
		}
		return nil
	}

	delay := Backoff(attempts, q.backoffMin, q.backoffMax)
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE work_items
		SET state = 'RETRY', available_at = now() + $2::interval, visible_until = NULL,
		    error_message = $3, updated_at = now()
		WHERE id = $1 AND state = 'ACTIVE'
	`, id, pgInterval(delay), errMsg)
	if err != nil {
		return fmt.Errorf("workqueue: mark retry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// Cancel transitions an ACTIVE row straight to FAILED without consulting
// the retry budget, so the queue itself never retries it (the planner
// re-publishes on its next tick). The worker pool does not call it: a
// handler that exceeds its deadline is reported through Fail.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE work_items
		SET state = 'FAILED', visible_until = NULL, error_message = $2, updated_at = now()
		WHERE id = $1 AND state = 'ACTIVE'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("workqueue: cancel %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// Sweep reclaims ACTIVE rows whose visibility window has expired back to
// RETRY, and returns how many rows were reclaimed.
func (q *Queue) Sweep(ctx context.Context, queue string) (int, error) {
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE work_items
		SET state = 'RETRY', available_at = now(), visible_until = NULL, updated_at = now()
		WHERE queue = $1 AND state = 'ACTIVE' AND visible_until < now()
	`, queue)
	if err != nil {
		return 0, fmt.Errorf("workqueue: sweep %s: %w", queue, err)
	}
	return int(tag.RowsAffected()), nil
}
