// Package dispatch moves task jobs from request handlers to workers, either
// through an in-process pool or through an AMQP queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/clipforge/clipforge/internal/catalog"
)

// Job names a task to execute. The task row carries everything else.
type Job struct {
	Kind   catalog.TaskKind `json:"kind"`
	TaskID string           `json:"task_id"`
}

func (j Job) Validate() error {
	if j.TaskID == "" {
		return fmt.Errorf("job missing task_id")
	}
	if j.Kind != catalog.TaskExtraction && j.Kind != catalog.TaskConversion {
		return fmt.Errorf("job has unknown kind %q", j.Kind)
	}
	return nil
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Handler executes a job. Implementations must be idempotent: a job may be
// delivered more than once.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Failer marks a task FAILURE and releases the entity it holds.
type Failer interface {
	FailTask(ctx context.Context, taskID, msg string) error
}

// runJob calls h and turns a panic into a failed task.
func runJob(ctx context.Context, h Handler, f Failer, job Job, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				"task_id", job.TaskID,
				"kind", job.Kind,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("job panicked: %v", r)
			if f != nil {
				if ferr := f.FailTask(ctx, job.TaskID, err.Error()); ferr != nil {
					logger.Error("failed to mark panicked task", "task_id", job.TaskID, "error", ferr)
				}
			}
		}
	}()
	return h.Handle(ctx, job)
}
