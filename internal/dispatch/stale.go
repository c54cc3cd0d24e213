package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
)

// StaleSweeper fails STARTED tasks that have been running longer than a
// timeout, releasing the video or clip they hold. The pool runs one inside
// its sweep; broker workers run one on its own loop.
type StaleSweeper struct {
	tasks   TaskLister
	failer  Failer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewStaleSweeper(tasks TaskLister, failer Failer, timeout time.Duration, logger *slog.Logger) *StaleSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleSweeper{
		tasks:   tasks,
		failer:  failer,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep fails one batch of stale tasks and returns how many it failed.
func (s *StaleSweeper) Sweep(ctx context.Context) int {
	return s.sweepAt(ctx, s.now())
}

func (s *StaleSweeper) sweepAt(ctx context.Context, now time.Time) int {
	if s.timeout <= 0 || s.failer == nil {
		return 0
	}
	stale, err := s.tasks.ListTasks(ctx, catalog.TaskFilter{
		Statuses:      []catalog.TaskStatus{catalog.TaskStarted},
		UpdatedBefore: now.Add(-s.timeout),
		Limit:         sweepBatch,
	})
	if err != nil {
		s.logger.Error("failed to list stale tasks", "error", err)
		return 0
	}

	failed := 0
	msg := fmt.Sprintf("timed out after %s", s.timeout)
	for _, t := range stale {
		if err := s.failer.FailTask(ctx, t.ID, msg); err != nil {
			s.logger.Warn("failed to fail stale task", "task_id", t.ID, "error", err)
			continue
		}
		failed++
		s.logger.Warn("stale task failed", "task_id", t.ID, "kind", t.Kind, "started_at", t.UpdatedAt)
	}
	return failed
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *StaleSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.timeout <= 0 {
		return
	}
	s.logger.Info("stale task sweep started", "interval", interval, "timeout", s.timeout)

	s.Sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
