package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/extract"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/source"
	"github.com/clipforge/clipforge/internal/storage"
)

// Submission identifies accepted ingestion work.
type Submission struct {
	TaskID  string `json:"task_id"`
	VideoID string `json:"video_id"`
}

// IngestUpload stores the uploaded bytes and queues extraction. size may be
// -1 when unknown; zero is rejected.
func (o *Orchestrator) IngestUpload(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*Submission, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, catalog.Invalid("owner", "required")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, catalog.Invalid("filename", "required")
	}
	if !catalog.IsVideoFile(filename) {
		return nil, catalog.Invalid("filename", fmt.Sprintf("unsupported file type %q", path.Ext(filename)))
	}
	if size == 0 || r == nil {
		return nil, catalog.Invalid("file", "empty")
	}
	if o.cfg.MaxUploadBytes > 0 && size > o.cfg.MaxUploadBytes {
		return nil, catalog.Invalid("file", fmt.Sprintf("larger than %d bytes", o.cfg.MaxUploadBytes))
	}

	video := &catalog.Video{
		ID:       catalog.NewID(),
		OwnerID:  ownerID,
		Filename: storage.SafeFilename(filename),
		Status:   catalog.VideoQueued,
	}
	video.SourceKey = storage.SourceKey(ownerID, video.ID, filename)

	if err := o.store.Put(ctx, video.SourceKey, r, size, contentType(filename)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return o.submit(ctx, video)
}

// IngestURL queues extraction for a remote video. The URL is only checked
// for shape here; fetching happens on the worker.
func (o *Orchestrator) IngestURL(ctx context.Context, ownerID, rawURL string) (*Submission, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, catalog.Invalid("owner", "required")
	}
	u, err := source.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	video := &catalog.Video{
		ID:        catalog.NewID(),
		OwnerID:   ownerID,
		Filename:  source.FilenameFor(u),
		SourceURL: u.String(),
		Status:    catalog.VideoQueued,
	}
	return o.submit(ctx, video)
}

func (o *Orchestrator) submit(ctx context.Context, video *catalog.Video) (*Submission, error) {
	task := &catalog.Task{
		ID:     catalog.NewID(),
		Kind:   catalog.TaskExtraction,
		Status: catalog.TaskPending,
	}
	if err := o.repo.CreateVideoWithTask(ctx, video, task); err != nil {
		if video.SourceKey != "" {
			o.discardUpload(ctx, video.SourceKey)
		}
		return nil, fmt.Errorf("create video: %w", err)
	}

	sub := &Submission{TaskID: task.ID, VideoID: video.ID}
	o.logger.Info("video accepted",
		"video_id", video.ID,
		"task_id", task.ID,
		"owner_id", video.OwnerID,
		"source", sourceLabel(video),
	)

	if err := o.dispatch(ctx, catalog.TaskExtraction, task.ID); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		rctx, cancel := recordContext(ctx)
		defer cancel()
		if ferr := o.repo.FailExtraction(rctx, task.ID, video.ID, msg); ferr != nil {
			o.logger.Error("failed to record dispatch failure", "task_id", task.ID, "error", ferr)
		}
		return nil, fmt.Errorf("dispatch extraction: %w", err)
	}
	return sub, nil
}

func (o *Orchestrator) discardUpload(ctx context.Context, key string) {
	rctx, cancel := recordContext(ctx)
	defer cancel()
	if err := o.store.Delete(rctx, key); err != nil {
		o.logger.Warn("failed to remove orphaned upload", "key", key, "error", err)
	}
}

func sourceLabel(v *catalog.Video) string {
	if v.SourceURL != "" {
		return logging.SanitizeURL(v.SourceURL)
	}
	return "upload"
}

// ProcessExtraction runs one extraction task to completion. A task that is
// no longer PENDING is left alone, so redelivered jobs are harmless.
func (o *Orchestrator) ProcessExtraction(ctx context.Context, taskID string) error {
	video, err := o.repo.StartExtraction(ctx, taskID)
	if errors.Is(err, catalog.ErrInvalidTransition) || errors.Is(err, catalog.ErrNotFound) {
		o.logger.Debug("extraction already handled", "task_id", taskID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start extraction: %w", err)
	}

	started := o.now()
	logger := logging.WithTaskID(logging.WithVideoID(o.logger, video.ID), taskID)
	logger.Info("extraction started", "filename", video.Filename)

	workDir := filepath.Join(o.cfg.WorkDir, taskID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return o.failExtraction(ctx, taskID, video.ID, started, fmt.Errorf("create work dir: %w", err), logger)
	}
	defer os.RemoveAll(workDir)

	clips, err := o.runExtraction(ctx, video, workDir, logger)
	if err != nil {
		return o.failExtraction(ctx, taskID, video.ID, started, err, logger)
	}

	rctx, cancel := recordContext(ctx)
	defer cancel()
	if err := o.repo.CompleteExtraction(rctx, taskID, video.ID); err != nil {
		return fmt.Errorf("complete extraction: %w", err)
	}
	o.metrics.TaskFinished(string(catalog.TaskExtraction), string(catalog.TaskSuccess), o.now().Sub(started))
	logger.Info("extraction completed", "clips", clips, "duration_ms", o.now().Sub(started).Milliseconds())
	return nil
}

func (o *Orchestrator) failExtraction(ctx context.Context, taskID, videoID string, started time.Time, cause error, logger *slog.Logger) error {
	logger.Error("extraction failed", "error", cause, "ingestion", catalog.IsIngestion(cause))
	ctx, cancel := recordContext(ctx)
	defer cancel()
	if err := o.repo.FailExtraction(ctx, taskID, videoID, cause.Error()); err != nil {
		logger.Error("failed to record extraction failure", "error", err)
		return errors.Join(cause, err)
	}
	o.metrics.TaskFinished(string(catalog.TaskExtraction), string(catalog.TaskFailure), o.now().Sub(started))
	return cause
}

// runExtraction runs resolve, extract, select, then render and index concurrently.
// It returns the number of clips created.
func (o *Orchestrator) runExtraction(ctx context.Context, video *catalog.Video, workDir string, logger *slog.Logger) (int, error) {
	local, err := o.resolveSource(ctx, video, workDir)
	if err != nil {
		return 0, err
	}

	res, err := o.extractor.Extract(ctx, local)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}

	duration := res.Transcript.Duration
	if probe, err := o.renderer.Probe(ctx, local); err != nil {
		logger.Warn("probe failed, using transcript duration", "error", err)
	} else if probe.Duration > 0 {
		duration = probe.Duration
	}

	segments := SelectSegments(res.Candidates, duration, o.cfg.Selection)
	logger.Info("segments selected", "candidates", len(res.Candidates), "selected", len(segments), "duration_s", duration)

	var (
		wg       sync.WaitGroup
		indexErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := o.indexer.Build(ctx, video.ID, res.Transcript.Segments)
		if err != nil && !errors.Is(err, catalog.ErrConflict) {
			indexErr = err
		}
	}()

	rendered := o.renderAll(ctx, video, local, workDir, segments, logger)
	wg.Wait()

	if indexErr != nil {
		return rendered, fmt.Errorf("build search index: %w", indexErr)
	}
	if len(segments) > 0 && rendered == 0 {
		return 0, fmt.Errorf("%w (%d segments)", ErrTotalRenderFailure, len(segments))
	}
	return rendered, nil
}

// resolveSource puts the source video at a local path in workDir. URL
// sources are persisted to the store the first time they are fetched.
func (o *Orchestrator) resolveSource(ctx context.Context, video *catalog.Video, workDir string) (string, error) {
	if video.SourceKey != "" {
		local := filepath.Join(workDir, storage.SafeFilename(video.Filename))
		if err := o.store.Download(ctx, video.SourceKey, local); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return "", &catalog.IngestionError{Source: video.SourceKey, Err: err}
			}
			return "", fmt.Errorf("download source: %w", err)
		}
		return local, nil
	}

	if video.SourceURL == "" {
		return "", &catalog.IngestionError{Source: video.ID, Err: errors.New("video has no source")}
	}
	fetched, err := o.sources.Fetch(ctx, video.SourceURL, workDir)
	if err != nil {
		return "", err
	}

	key := storage.SourceKey(video.OwnerID, video.ID, fetched.Filename)
	if err := o.store.Upload(ctx, fetched.Path, key, contentType(fetched.Filename)); err != nil {
		return "", fmt.Errorf("persist source: %w", err)
	}
	if err := o.repo.SetVideoSource(ctx, video.ID, key); err != nil {
		return "", fmt.Errorf("record source key: %w", err)
	}
	video.SourceKey = key
	return fetched.Path, nil
}

// renderAll renders segments with bounded parallelism and records a clip for
// each success. Failures are logged and skipped.
func (o *Orchestrator) renderAll(ctx context.Context, video *catalog.Video, local, workDir string, segments []extract.Candidate, logger *slog.Logger) int {
	var (
		wg  sync.WaitGroup
		ok  atomic.Int32
		sem = make(chan struct{}, o.cfg.RenderConcurrency)
	)
	for i, seg := range segments {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := o.renderOne(ctx, video, local, workDir, i, seg); err != nil {
				logger.Warn("segment skipped", "error", &PartialRenderError{Index: i, Start: seg.Start, End: seg.End, Err: err})
				o.metrics.SegmentRendered(false)
				return
			}
			o.metrics.SegmentRendered(true)
			ok.Add(1)
		}()
	}
	wg.Wait()
	return int(ok.Load())
}

func (o *Orchestrator) renderOne(ctx context.Context, video *catalog.Video, local, workDir string, i int, seg extract.Candidate) error {
	rc, err := o.renderer.RenderSegment(ctx, local, workDir, video.OwnerID, video.ID, i, media.Segment{Start: seg.Start, End: seg.End})
	if err != nil {
		return err
	}
	clip := &catalog.Clip{
		ID:               catalog.NewID(),
		VideoID:          video.ID,
		Position:         i,
		Filename:         rc.Filename,
		StorageKey:       rc.StorageKey,
		Reason:           seg.Reason,
		HookType:         seg.HookType,
		ViralityScore:    seg.Score,
		Start:            seg.Start,
		End:              seg.End,
		ConversionStatus: catalog.ConversionNone,
	}
	if err := o.repo.InsertClip(ctx, clip); err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); ct != "" {
		return ct
	}
	return "video/mp4"
}
