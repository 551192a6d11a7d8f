// Package queue implements the durable Work Queue & Task Runner: a
// FIFO tasks table with pending -> running -> (done | failed) states
// and skip-locked-style concurrent claiming. SQLite has no native
// SKIP LOCKED, so claiming is emulated with a single UPDATE ...
// RETURNING statement that selects and flips one row atomically (see
// Claim); the catalog's segment reservation applies the same
// atomic-claim idea (see catalog.Store.LockForCompaction).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Task types, per spec §4.J. TaskBuildL1Segment is declared but never
// enqueued: handleETLDoc builds straight from etl_doc into a level-1
// segment in one step rather than splitting "fetch text" and "build
// segment" into two separately-queued tasks, so nothing ever produces
// a build_l1_segment task for a handler to consume.
const (
	TaskETLDoc            = "etl_doc"
	TaskBuildL1Segment    = "build_l1_segment"
	TaskCompactLevel      = "compact_level"
	TaskRebuildL5Monolith = "rebuild_l5_monolith"
)

// Status values.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Task is one row of the tasks table.
type Task struct {
	ID          int64
	Type        string
	PayloadJSON string
	Attempts    int
	Status      string
	Error       string
}

// Queue wraps the shared catalog database handle to drive the task
// table. It does not own the *sql.DB's lifecycle; the caller (normally
// the same process that opened catalog.Store) closes it.
type Queue struct {
	db *sql.DB
}

// New wraps db as a Queue. db is expected to already have the tasks
// table created (catalog.New applies the full schema, including
// tasks, before handing its DB out via Store.DB()).
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a new pending task with the given type and payload.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal payload: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_type, payload_json, status) VALUES (?, ?, ?)`,
		taskType, string(data), StatusPending)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: %w", taskType, err)
	}
	return res.LastInsertId()
}

// Claim atomically selects the oldest pending task and flips it to
// running in a single UPDATE ... WHERE id = (subquery) RETURNING
// statement: the whole select-then-update is one SQLite statement, so
// two concurrent callers can never claim the same row, without needing
// SELECT ... FOR UPDATE SKIP LOCKED (which SQLite has no syntax for).
// Returns (nil, nil) when the queue is empty.
func (q *Queue) Claim(ctx context.Context) (*Task, error) {
	var t Task
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM tasks WHERE status = ? ORDER BY id LIMIT 1
		)
		RETURNING id, task_type, payload_json, attempts, status`,
		StatusRunning, StatusPending)

	err := row.Scan(&t.ID, &t.Type, &t.PayloadJSON, &t.Attempts, &t.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	return &t, nil
}

// Complete marks a task done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, StatusDone, id)
	return err
}

// Fail marks a task failed with an error message, truncated to 2000
// characters per spec §7's propagation policy.
func (q *Queue) Fail(ctx context.Context, id int64, cause error) error {
	msg := cause.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		StatusFailed, msg, id)
	return err
}

// Requeue resets a failed task back to pending, for manual operator
// retry per spec §4.J.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`, StatusPending, id, StatusFailed)
	return err
}

// PendingCount returns the number of pending tasks of one type. No code
// in the engine calls it; the Runner applies no backlog back-pressure.
func (q *Queue) PendingCount(ctx context.Context, taskType string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE task_type = ? AND status = ?`, taskType, StatusPending).Scan(&n)
	return n, err
}

// pollInterval is how often an idle Runner checks for new work.
const pollInterval = 200 * time.Millisecond
