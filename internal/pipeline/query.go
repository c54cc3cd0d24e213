package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/search"
)

type TaskStatusView struct {
	TaskID    string             `json:"task_id"`
	Kind      catalog.TaskKind   `json:"kind"`
	Status    catalog.TaskStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ClipView is a clip as returned to clients. URL fields are only filled by
// GetVideo.
type ClipView struct {
	*catalog.Clip
	URL       string `json:"url,omitempty"`
	ShortsURL string `json:"shorts_url,omitempty"`
}

type VideoView struct {
	*catalog.Video
	Clips []ClipView `json:"clips"`
}

type SearchResult struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

// GetTaskStatus reports a task's current status. Tasks are looked up by id
// only; the id is the capability.
func (o *Orchestrator) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatusView, error) {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStatusView{TaskID: t.ID, Kind: t.Kind, Status: t.Status, Error: t.Error, UpdatedAt: t.UpdatedAt}, nil
}

// ListVideos returns the owner's videos, newest first, with clip summaries.
func (o *Orchestrator) ListVideos(ctx context.Context, ownerID string) ([]VideoView, error) {
	videos, err := o.repo.ListVideos(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	clips, err := o.repo.ListClipsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}

	byVideo := make(map[string][]ClipView, len(videos))
	for _, c := range clips {
		byVideo[c.VideoID] = append(byVideo[c.VideoID], ClipView{Clip: c})
	}

	out := make([]VideoView, 0, len(videos))
	for _, v := range videos {
		views := byVideo[v.ID]
		if views == nil {
			views = []ClipView{}
		}
		out = append(out, VideoView{Video: v, Clips: views})
	}
	return out, nil
}

// GetVideo returns one video with its clips in rank order and freshly
// presigned URLs.
func (o *Orchestrator) GetVideo(ctx context.Context, ownerID, videoID string) (*VideoView, error) {
	v, err := o.ownedVideo(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	clips, err := o.repo.ListClips(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}

	view := &VideoView{Video: v, Clips: make([]ClipView, 0, len(clips))}
	for _, c := range clips {
		cv := ClipView{Clip: c}
		if cv.URL, err = o.store.PresignGet(ctx, c.StorageKey, o.cfg.PresignExpiry); err != nil {
			return nil, fmt.Errorf("presign clip %s: %w", c.ID, err)
		}
		if c.ShortsKey != "" {
			if cv.ShortsURL, err = o.store.PresignGet(ctx, c.ShortsKey, o.cfg.PresignExpiry); err != nil {
				return nil, fmt.Errorf("presign shorts %s: %w", c.ID, err)
			}
		}
		view.Clips = append(view.Clips, cv)
	}
	return view, nil
}

// Search finds the transcript segment of the video closest to query.
func (o *Orchestrator) Search(ctx context.Context, ownerID, videoID, query string) (*SearchResult, error) {
	if _, err := o.ownedVideo(ctx, ownerID, videoID); err != nil {
		return nil, err
	}

	m, err := o.indexer.Search(ctx, videoID, query)
	switch {
	case errors.Is(err, catalog.ErrNotIndexed):
		o.metrics.SearchQuery("not_indexed")
		return nil, err
	case errors.Is(err, search.ErrNoMatch):
		o.metrics.SearchQuery("no_match")
		return nil, catalog.ErrNotFound
	case err != nil:
		o.metrics.SearchQuery("error")
		return nil, err
	}
	o.metrics.SearchQuery("hit")
	return &SearchResult{Start: m.Start, End: m.End, Score: m.Score, Text: m.Text}, nil
}

// ClipDownload returns a presigned URL for the original (landscape) clip.
func (o *Orchestrator) ClipDownload(ctx context.Context, ownerID, clipID string) (string, error) {
	clip, _, err := o.ownedClip(ctx, ownerID, clipID)
	if err != nil {
		return "", err
	}
	url, err := o.store.PresignGet(ctx, clip.StorageKey, o.cfg.PresignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign clip: %w", err)
	}
	return url, nil
}

// ownedVideo loads a video and hides it from anyone but its owner.
func (o *Orchestrator) ownedVideo(ctx context.Context, ownerID, videoID string) (*catalog.Video, error) {
	v, err := o.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.OwnerID != ownerID {
		return nil, catalog.ErrNotFound
	}
	return v, nil
}

func (o *Orchestrator) ownedClip(ctx context.Context, ownerID, clipID string) (*catalog.Clip, *catalog.Video, error) {
	c, err := o.repo.GetClip(ctx, clipID)
	if err != nil {
		return nil, nil, err
	}
	v, err := o.ownedVideo(ctx, ownerID, c.VideoID)
	if err != nil {
		return nil, nil, err
	}
	return c, v, nil
}
