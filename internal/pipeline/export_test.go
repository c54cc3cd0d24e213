package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clipforge/clipforge/internal/catalog"
)

func TestExportEDL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	clip := extractedClip(t, h, "alice")

	out, err := h.o.ExportEDL(ctx, "alice", clip.VideoID, 25)
	if err != nil {
		t.Fatalf("ExportEDL() error = %v", err)
	}
	if out.Filename != "talk.edl" || out.Events != 2 {
		t.Errorf("export = %q with %d events, want talk.edl with 2", out.Filename, out.Events)
	}
	for _, want := range []string{
		"TITLE: talk",
		"001  AX       V     C        00:00:00:00 00:00:20:00 00:00:00:00 00:00:20:00",
		"002  AX       V     C        00:00:30:00 00:01:15:00 00:00:20:00 00:01:05:00",
		"* SOURCE FILE:  talk.mp4",
		"intro hook",
	} {
		if !strings.Contains(out.Body, want) {
			t.Errorf("EDL missing %q:\n%s", want, out.Body)
		}
	}
}

func TestExportEDL_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := h.upload(t, "alice")

	if _, err := h.o.ExportEDL(ctx, "bob", sub.VideoID, 0); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("foreign export error = %v, want ErrNotFound", err)
	}
	if _, err := h.o.ExportEDL(ctx, "alice", sub.VideoID, 500); !catalog.IsValidation(err) {
		t.Errorf("bad fps error = %v, want validation error", err)
	}

	out, err := h.o.ExportEDL(ctx, "alice", sub.VideoID, 0)
	if err != nil {
		t.Fatalf("ExportEDL() before extraction error = %v", err)
	}
	if out.Events != 0 {
		t.Errorf("events = %d, want 0 before extraction", out.Events)
	}
}
