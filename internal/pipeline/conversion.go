package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/logging"
)

// Conversion statuses reported to clients.
const (
	StatusAlreadyConverted = "already_converted"
	StatusProcessing       = "processing"
	StatusReady            = "ready"
	StatusNone             = "none"
)

type ConversionResult struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

// Convert requests a 9:16 rendition of a clip. READY clips return their
// existing shorts URL and ignore layout; a clip with a conversion in flight
// reports processing without creating another task.
func (o *Orchestrator) Convert(ctx context.Context, ownerID, clipID, layout string) (*ConversionResult, error) {
	if layout == "" {
		layout = o.cfg.DefaultLayout
	}
	if !catalog.ValidLayout(layout) {
		return nil, catalog.Invalid("layout", fmt.Sprintf("unknown layout %q", layout))
	}

	clip, video, err := o.ownedClip(ctx, ownerID, clipID)
	if err != nil {
		return nil, err
	}
	if clip.ConversionStatus == catalog.ConversionReady {
		return o.readyResult(ctx, StatusAlreadyConverted, clip)
	}

	task, clip, err := o.repo.BeginConversion(ctx, clipID, layout)
	switch {
	case errors.Is(err, catalog.ErrConflict):
		res := &ConversionResult{Status: StatusProcessing}
		if task != nil {
			res.TaskID = task.ID
		}
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("begin conversion: %w", err)
	case task == nil:
		return o.readyResult(ctx, StatusAlreadyConverted, clip)
	}

	logging.WithClipID(o.logger, clipID).Info("conversion queued",
		"task_id", task.ID,
		"video_id", video.ID,
		"layout", layout,
	)

	if err := o.dispatch(ctx, catalog.TaskConversion, task.ID); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		rctx, cancel := recordContext(ctx)
		defer cancel()
		if ferr := o.repo.FailConversion(rctx, task.ID, clipID, msg); ferr != nil {
			o.logger.Error("failed to record dispatch failure", "task_id", task.ID, "error", ferr)
		}
		return nil, fmt.Errorf("dispatch conversion: %w", err)
	}
	return &ConversionResult{Status: StatusProcessing, TaskID: task.ID}, nil
}

// GetConversion reports the clip's conversion state without starting work.
func (o *Orchestrator) GetConversion(ctx context.Context, ownerID, clipID string) (*ConversionResult, error) {
	clip, _, err := o.ownedClip(ctx, ownerID, clipID)
	if err != nil {
		return nil, err
	}

	switch clip.ConversionStatus {
	case catalog.ConversionReady:
		return o.readyResult(ctx, StatusReady, clip)
	case catalog.ConversionProcessing:
		res := &ConversionResult{Status: StatusProcessing}
		if t, err := o.repo.ActiveTask(ctx, catalog.TaskConversion, clipID); err == nil {
			res.TaskID = t.ID
		}
		return res, nil
	default:
		return &ConversionResult{Status: StatusNone}, nil
	}
}

func (o *Orchestrator) readyResult(ctx context.Context, status string, clip *catalog.Clip) (*ConversionResult, error) {
	url, err := o.store.PresignGet(ctx, clip.ShortsKey, o.cfg.PresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign shorts: %w", err)
	}
	return &ConversionResult{Status: status, URL: url}, nil
}

// ProcessConversion renders the shorts variant for one conversion task.
func (o *Orchestrator) ProcessConversion(ctx context.Context, taskID string) error {
	task, err := o.repo.StartConversion(ctx, taskID)
	if errors.Is(err, catalog.ErrInvalidTransition) || errors.Is(err, catalog.ErrNotFound) {
		o.logger.Debug("conversion already handled", "task_id", taskID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start conversion: %w", err)
	}

	started := o.now()
	clipID := task.SubjectID
	logger := logging.WithTaskID(logging.WithClipID(o.logger, clipID), taskID)

	fail := func(cause error) error {
		logger.Error("conversion failed", "error", cause)
		rctx, cancel := recordContext(ctx)
		defer cancel()
		if err := o.repo.FailConversion(rctx, taskID, clipID, cause.Error()); err != nil {
			logger.Error("failed to record conversion failure", "error", err)
			return errors.Join(cause, err)
		}
		o.metrics.TaskFinished(string(catalog.TaskConversion), string(catalog.TaskFailure), o.now().Sub(started))
		return cause
	}

	clip, err := o.repo.GetClip(ctx, clipID)
	if err != nil {
		return fail(fmt.Errorf("load clip: %w", err))
	}
	video, err := o.repo.GetVideo(ctx, clip.VideoID)
	if err != nil {
		return fail(fmt.Errorf("load video: %w", err))
	}

	layout := task.Params
	if layout == "" {
		layout = o.cfg.DefaultLayout
	}

	workDir := filepath.Join(o.cfg.WorkDir, taskID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fail(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	logger.Info("conversion started", "layout", layout)
	shortsKey, err := o.renderer.Convert(ctx, clip, video.OwnerID, layout, workDir)
	if err != nil {
		return fail(err)
	}

	rctx, cancel := recordContext(ctx)
	defer cancel()
	if err := o.repo.CompleteConversion(rctx, taskID, clipID, shortsKey, layout); err != nil {
		return fmt.Errorf("complete conversion: %w", err)
	}
	o.metrics.TaskFinished(string(catalog.TaskConversion), string(catalog.TaskSuccess), o.now().Sub(started))
	logger.Info("conversion completed", "shorts_key", shortsKey, "duration_ms", o.now().Sub(started).Milliseconds())
	return nil
}
