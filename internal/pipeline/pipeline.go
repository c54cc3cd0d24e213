// Package pipeline drives videos from ingestion to rendered clips and a
// search index, and serves conversion requests for individual clips.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/dispatch"
	"github.com/clipforge/clipforge/internal/extract"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/search"
	"github.com/clipforge/clipforge/internal/source"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/transcribe"
)

// recordTimeout bounds the final state write of a job. It runs on a context
// detached from the job's, so a worker shutting down mid-job still records
// the outcome and releases the subject.
const recordTimeout = 15 * time.Second

func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// ErrTotalRenderFailure means segments were selected but none rendered.
var ErrTotalRenderFailure = errors.New("all segment renders failed")

// PartialRenderError describes one segment that failed to render. It is
// logged and never returned to callers.
type PartialRenderError struct {
	Index int
	Start float64
	End   float64
	Err   error
}

func (e *PartialRenderError) Error() string {
	return fmt.Sprintf("render segment %d [%.3f, %.3f]: %v", e.Index, e.Start, e.End, e.Err)
}

func (e *PartialRenderError) Unwrap() error { return e.Err }

// Fetcher resolves a URL into a local file. source.Resolver implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (*source.Fetched, error)
}

// Renderer cuts and reframes clips. media.Renderer implements it.
type Renderer interface {
	Probe(ctx context.Context, path string) (*media.Probe, error)
	RenderSegment(ctx context.Context, src, workDir, ownerID, videoID string, index int, seg media.Segment) (*media.RenderedClip, error)
	Convert(ctx context.Context, clip *catalog.Clip, ownerID, layout, workDir string) (string, error)
}

// Indexer builds and queries search indexes. search.Indexer implements it.
type Indexer interface {
	Build(ctx context.Context, videoID string, segments []transcribe.Segment) error
	Search(ctx context.Context, videoID, query string) (*search.Match, error)
}

type Config struct {
	WorkDir           string
	RenderConcurrency int
	Selection         SelectionConfig
	DefaultLayout     string
	PresignExpiry     time.Duration
	MaxUploadBytes    int64
}

type Deps struct {
	Repo      catalog.Repository
	Store     storage.Store
	Sources   Fetcher
	Extractor extract.Extractor
	Renderer  Renderer
	Indexer   Indexer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Orchestrator owns the extraction and conversion flows. Request-side methods
// record work and hand it to a dispatch.Dispatcher; worker-side methods
// (Handle and the Process* methods) execute it.
type Orchestrator struct {
	repo       catalog.Repository
	tasks      *catalog.TaskRegistry
	store      storage.Store
	sources    Fetcher
	extractor  extract.Extractor
	renderer   Renderer
	indexer    Indexer
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.RenderConcurrency <= 0 {
		cfg.RenderConcurrency = 1
	}
	if cfg.Selection == (SelectionConfig{}) {
		cfg.Selection = DefaultSelection()
	}
	if cfg.DefaultLayout == "" {
		cfg.DefaultLayout = catalog.LayoutCenterCrop
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	return &Orchestrator{
		repo:      deps.Repo,
		tasks:     catalog.NewTaskRegistry(deps.Repo, deps.Logger),
		store:     deps.Store,
		sources:   deps.Sources,
		extractor: deps.Extractor,
		renderer:  deps.Renderer,
		indexer:   deps.Indexer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetDispatcher wires the queue jobs are sent to. It must be called before
// any ingestion or conversion request.
func (o *Orchestrator) SetDispatcher(d dispatch.Dispatcher) {
	o.dispatcher = d
}

// Handle executes a dispatched job.
func (o *Orchestrator) Handle(ctx context.Context, job dispatch.Job) error {
	switch job.Kind {
	case catalog.TaskExtraction:
		return o.ProcessExtraction(ctx, job.TaskID)
	case catalog.TaskConversion:
		return o.ProcessConversion(ctx, job.TaskID)
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

// FailTask marks a non-terminal task FAILURE and releases its subject. It is
// used for panics and for tasks that outlived the stale timeout.
func (o *Orchestrator) FailTask(ctx context.Context, taskID, msg string) error {
	ctx, cancel := recordContext(ctx)
	defer cancel()

	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	switch t.Kind {
	case catalog.TaskExtraction:
		err = o.repo.FailExtraction(ctx, taskID, t.SubjectID, msg)
	case catalog.TaskConversion:
		err = o.repo.FailConversion(ctx, taskID, t.SubjectID, msg)
	default:
		err = o.tasks.SetStatus(ctx, taskID, catalog.TaskFailure, msg)
	}
	if errors.Is(err, catalog.ErrInvalidTransition) {
		// finished on its own in the meantime
		return nil
	}
	if err == nil {
		o.metrics.TaskFinished(string(t.Kind), string(catalog.TaskFailure), 0)
	}
	return err
}

func (o *Orchestrator) dispatch(ctx context.Context, kind catalog.TaskKind, taskID string) error {
	if o.dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	err := o.dispatcher.Dispatch(ctx, dispatch.Job{Kind: kind, TaskID: taskID})
	o.metrics.JobDispatched(string(kind), err)
	return err
}
