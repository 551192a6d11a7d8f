package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Handler processes one claimed task. A returned error marks the task
// failed (per spec §7, Transient); handlers must not throw, only return.
type Handler func(ctx context.Context, task Task) error

// Runner drives a bounded worker pool (GOMAXPROCS-sized by default,
// overridable) that polls Claim and dispatches to a registered Handler
// per task type, mirroring the teacher's poll/claim/process/mark worker
// loop shape.
type Runner struct {
	q           *Queue
	handlers    map[string]Handler
	concurrency int
}

// NewRunner builds a Runner over q. concurrency <= 0 defaults to
// runtime.GOMAXPROCS(0).
func NewRunner(q *Queue, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Runner{q: q, handlers: make(map[string]Handler), concurrency: concurrency}
}

// Register binds a Handler to a task type. Must be called before Run.
func (r *Runner) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Run starts the worker pool and blocks until ctx is cancelled, then
// drains in-flight tasks before returning (graceful shutdown, mirroring
// cmd/server's signal-driven drain but applied to a worker pool instead
// of an HTTP server).
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(r.concurrency)
	for i := 0; i < r.concurrency; i++ {
		workerID := i
		go func() {
			defer wg.Done()
			r.worker(ctx, workerID)
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := r.q.Claim(ctx)
		if err != nil {
			slog.Warn("queue: claim failed", "worker", id, "error", err)
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if task == nil {
			sleepOrDone(ctx, pollInterval)
			continue
		}

		handler, ok := r.handlers[task.Type]
		if !ok {
			_ = r.q.Fail(ctx, task.ID, fmt.Errorf("no handler registered for task type %q", task.Type))
			continue
		}

		// A claimed task runs to completion even if ctx is cancelled
		// meanwhile, so shutdown waits for it instead of aborting it.
		taskCtx := context.WithoutCancel(ctx)
		slog.Info("queue: processing task", "worker", id, "task_id", task.ID, "type", task.Type)
		if err := handler(taskCtx, *task); err != nil {
			slog.Warn("queue: task failed", "worker", id, "task_id", task.ID, "error", err)
			if failErr := r.q.Fail(taskCtx, task.ID, err); failErr != nil {
				slog.Warn("queue: could not mark task failed", "task_id", task.ID, "error", failErr)
			}
			continue
		}
		if err := r.q.Complete(taskCtx, task.ID); err != nil {
			slog.Warn("queue: could not mark task done", "task_id", task.ID, "error", err)
		}
	}
}

// sleepOrDone waits d, returning early if ctx is cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
