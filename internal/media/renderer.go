package media

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/storage"
)

const contentTypeMP4 = "video/mp4"

// Segment is a time window of a source video, in seconds.
type Segment struct {
	Start float64
	End   float64
}

type RenderedClip struct {
	Filename   string
	StorageKey string
}

// Renderer cuts and reframes clips and moves the results through the store.
type Renderer struct {
	ff     FFmpeg
	store  storage.Store
	faces  FaceDetector
	logger *slog.Logger
}

func NewRenderer(ff FFmpeg, store storage.Store, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{ff: ff, store: store, logger: logger}
}

// SetFaceDetector enables subject tracking for the smart layout. Without
// one, smart renders like center_crop.
func (r *Renderer) SetFaceDetector(d FaceDetector) {
	r.faces = d
}

func (r *Renderer) Probe(ctx context.Context, path string) (*Probe, error) {
	return r.ff.Probe(ctx, path)
}

// RenderSegment cuts seg out of the local source file into workDir and
// uploads it under the clip key for (owner, video, index).
func (r *Renderer) RenderSegment(ctx context.Context, src, workDir, ownerID, videoID string, index int, seg Segment) (*RenderedClip, error) {
	filename := storage.ClipFilename(videoID, index)
	out := filepath.Join(workDir, filename)

	if err := r.ff.Cut(ctx, src, out, seg.Start, seg.End); err != nil {
		return nil, fmt.Errorf("cut clip %d: %w", index, err)
	}

	key := storage.ClipKey(ownerID, videoID, filename)
	if err := r.store.Upload(ctx, out, key, contentTypeMP4); err != nil {
		return nil, fmt.Errorf("upload clip %d: %w", index, err)
	}

	r.logger.Debug("clip rendered", "video_id", videoID, "index", index, "start", seg.Start, "end", seg.End)
	return &RenderedClip{Filename: filename, StorageKey: key}, nil
}

// Convert downloads the clip, reframes it with layout and uploads the
// shorts variant. It returns the shorts key.
func (r *Renderer) Convert(ctx context.Context, clip *catalog.Clip, ownerID, layout, workDir string) (string, error) {
	in := filepath.Join(workDir, clip.Filename)
	if err := r.store.Download(ctx, clip.StorageKey, in); err != nil {
		return "", fmt.Errorf("download clip: %w", err)
	}

	var probe *Probe
	if layout != catalog.LayoutBlurred {
		p, err := r.ff.Probe(ctx, in)
		if err != nil {
			return "", fmt.Errorf("probe clip: %w", err)
		}
		probe = p
	}
	if layout == catalog.LayoutSmart {
		probe.Subject = r.trackSubject(ctx, in, clip.ID)
	}

	out := filepath.Join(workDir, "shorts_"+clip.Filename)
	if err := r.ff.Reframe(ctx, in, out, layout, probe); err != nil {
		return "", fmt.Errorf("reframe clip: %w", err)
	}

	key := storage.ShortsKey(ownerID, clip.VideoID, clip.Filename)
	if err := r.store.Upload(ctx, out, key, contentTypeMP4); err != nil {
		return "", fmt.Errorf("upload shorts: %w", err)
	}
	return key, nil
}

// trackSubject returns the smoothed face track of a local clip, or nil when
// no detector is set, detection fails or no face is found.
func (r *Renderer) trackSubject(ctx context.Context, path, clipID string) []SubjectPoint {
	if r.faces == nil {
		r.logger.Warn("no face detector, smart layout falls back to center crop", "clip_id", clipID)
		return nil
	}
	track, err := r.faces.DetectFaces(ctx, path)
	if err != nil {
		r.logger.Warn("face detection failed, falling back to center crop", "clip_id", clipID, "error", err)
		return nil
	}
	if !track.HasFaces() {
		r.logger.Info("no faces detected, falling back to center crop", "clip_id", clipID)
		return nil
	}
	return SmoothTrack(track.Frames, SmoothWindow)
}
