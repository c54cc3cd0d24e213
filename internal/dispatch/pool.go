package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/metrics"
)

// TaskLister is the slice of the repository the sweep needs.
type TaskLister interface {
	ListTasks(ctx context.Context, f catalog.TaskFilter) ([]*catalog.Task, error)
}

type PoolConfig struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	StaleTimeout  time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

const (
	defaultQueueSize = 256
	pausePoll        = 500 * time.Millisecond
	sweepBatch       = 100
)

// Pool runs jobs on a fixed set of goroutines. A periodic sweep re-queues
// PENDING tasks that were never picked up and fails STARTED tasks that have
// been running longer than StaleTimeout.
type Pool struct {
	handler Handler
	tasks   TaskLister
	failer  Failer
	cfg     PoolConfig
	logger  *slog.Logger
	stale   *StaleSweeper
	now     func() time.Time

	jobs    chan Job
	queued  sync.Map // task id -> struct{}
	running atomic.Bool
	paused  atomic.Bool
}

func NewPool(handler Handler, tasks TaskLister, failer Failer, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		handler: handler,
		tasks:   tasks,
		failer:  failer,
		cfg:     cfg,
		logger:  cfg.Logger,
		stale:   NewStaleSweeper(tasks, failer, cfg.StaleTimeout, cfg.Logger),
		now:     time.Now,
		jobs:    make(chan Job, cfg.QueueSize),
	}
}

// Dispatch queues job without blocking. When the buffer is full the task is
// left PENDING for the next sweep.
func (p *Pool) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, dup := p.queued.LoadOrStore(job.TaskID, struct{}{}); dup {
		return nil
	}
	select {
	case p.jobs <- job:
		p.cfg.Metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		p.queued.Delete(job.TaskID)
		p.logger.Warn("job queue full, leaving task for sweep", "task_id", job.TaskID, "kind", job.Kind)
		return nil
	}
}

// Start runs the workers and the sweep until ctx is cancelled. It blocks.
func (p *Pool) Start(ctx context.Context) {
	if p.running.Swap(true) {
		return
	}
	defer p.running.Store(false)

	p.logger.Info("worker pool started", "workers", p.cfg.Workers, "sweep_interval", p.cfg.SweepInterval)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}

	if p.cfg.SweepInterval > 0 {
		p.Sweep(ctx)
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if !p.paused.Load() {
					p.Sweep(ctx)
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	p.logger.Info("worker pool stopping")
	wg.Wait()
}

func (p *Pool) Pause() {
	p.paused.Store(true)
	p.logger.Info("worker pool paused")
}

func (p *Pool) Resume() {
	p.paused.Store(false)
	p.logger.Info("worker pool resumed")
}

func (p *Pool) IsPaused() bool { return p.paused.Load() }

func (p *Pool) IsRunning() bool { return p.running.Load() }

func (p *Pool) work(ctx context.Context) {
	for {
		for p.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePoll):
			}
		}

		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.queued.Delete(job.TaskID)
			p.cfg.Metrics.SetQueueDepth(len(p.jobs))
			if err := runJob(ctx, p.handler, p.failer, job, p.logger); err != nil {
				p.logger.Warn("job finished with error", "task_id", job.TaskID, "kind", job.Kind, "error", err)
			}
		}
	}
}

// Sweep re-queues PENDING tasks older than the sweep interval and fails
// STARTED tasks older than the stale timeout.
func (p *Pool) Sweep(ctx context.Context) {
	now := p.now()
	p.stale.sweepAt(ctx, now)

	pending, err := p.tasks.ListTasks(ctx, catalog.TaskFilter{
		Statuses:      []catalog.TaskStatus{catalog.TaskPending},
		UpdatedBefore: now.Add(-p.cfg.SweepInterval),
		Limit:         sweepBatch,
	})
	if err != nil {
		p.logger.Error("failed to list pending tasks", "error", err)
		return
	}
	for _, t := range pending {
		p.Dispatch(ctx, Job{Kind: t.Kind, TaskID: t.ID})
	}
	if len(pending) > 0 {
		p.logger.Info("re-queued pending tasks", "count", len(pending))
	}
}
