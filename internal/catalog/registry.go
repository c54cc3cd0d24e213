package catalog

import (
	"context"
	"errors"
	"log/slog"
)

// TaskRegistry tracks the lifecycle of asynchronous work. It stores status
// and a diagnostic message only; results live on the subject entity.
type TaskRegistry struct {
	repo   Repository
	logger *slog.Logger
}

func NewTaskRegistry(repo Repository, logger *slog.Logger) *TaskRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRegistry{repo: repo, logger: logger}
}

// Create registers a PENDING task. It fails with ErrConflict when the subject
// already has a PENDING or STARTED task of the same kind.
func (r *TaskRegistry) Create(ctx context.Context, kind TaskKind, subjectID string) (*Task, error) {
	if subjectID == "" {
		return nil, Invalid("subject_id", "required")
	}
	if kind != TaskExtraction && kind != TaskConversion {
		return nil, Invalid("kind", "unknown task kind "+string(kind))
	}

	t := &Task{
		ID:        NewID(),
		Kind:      kind,
		SubjectID: subjectID,
		Status:    TaskPending,
	}
	if err := r.repo.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	r.logger.Debug("task created", "task_id", t.ID, "kind", kind, "subject_id", subjectID)
	return t, nil
}

// SetStatus moves a task along PENDING -> STARTED -> SUCCESS|FAILURE (or
// PENDING -> FAILURE). Anything else returns ErrInvalidTransition and leaves
// the task untouched.
func (r *TaskRegistry) SetStatus(ctx context.Context, taskID string, status TaskStatus, msg string) error {
	err := r.repo.TransitionTask(ctx, taskID, status, msg)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			r.logger.Warn("rejected task transition", "task_id", taskID, "to", status, "error", err)
		}
		return err
	}
	r.logger.Debug("task status changed", "task_id", taskID, "status", status)
	return nil
}

func (r *TaskRegistry) Get(ctx context.Context, taskID string) (*Task, error) {
	return r.repo.GetTask(ctx, taskID)
}

func (r *TaskRegistry) List(ctx context.Context, f TaskFilter) ([]*Task, error) {
	return r.repo.ListTasks(ctx, f)
}
