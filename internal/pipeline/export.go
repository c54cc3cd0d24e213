package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/export"
)

const maxFrameRate = 120

// EDLExport is a rendered edit decision list ready to be served as a file.
type EDLExport struct {
	Filename string
	Body     string
	Events   int
}

// ExportEDL lays a video's highlights out as a CMX3600 EDL against the
// original source file, in rank order. frameRate 0 selects the default.
func (o *Orchestrator) ExportEDL(ctx context.Context, ownerID, videoID string, frameRate float64) (*EDLExport, error) {
	if !(frameRate >= 0 && frameRate <= maxFrameRate) {
		return nil, catalog.Invalid("fps", fmt.Sprintf("must be between 0 and %d", maxFrameRate))
	}
	v, err := o.ownedVideo(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	clips, err := o.repo.ListClips(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}

	events := make([]export.Event, 0, len(clips))
	for _, c := range clips {
		comment := c.Reason
		if c.HookType != "" {
			comment = strings.TrimSpace(c.HookType + ": " + comment)
		}
		events = append(events, export.Event{
			Name:    c.Filename,
			Source:  v.Filename,
			Start:   c.Start,
			End:     c.End,
			Comment: comment,
		})
	}

	title := strings.TrimSuffix(v.Filename, filepath.Ext(v.Filename))
	return &EDLExport{
		Filename: export.Filename(title, ".edl"),
		Body:     export.EDL(title, events, frameRate),
		Events:   len(events),
	}, nil
}
