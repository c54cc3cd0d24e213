package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultFacesFPS is the frame sampling rate asked of `faces detect`.
const DefaultFacesFPS = 2.0

// FaceBox is the largest face found in a sampled frame. X and Y are the
// normalised centre of the box, W and H its normalised size.
type FaceBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FaceFrame is one sampled frame. Face is nil when nothing was detected.
type FaceFrame struct {
	Time float64  `json:"t"`
	Face *FaceBox `json:"face"`
}

// FaceTrack is the document written by `faces detect --out`.
type FaceTrack struct {
	SchemaVersion string      `json:"schema_version"`
	ModelVersion  string      `json:"model_version"`
	FPS           float64     `json:"fps"`
	Frames        []FaceFrame `json:"frames"`
}

// Validate checks the required metadata, rejects boxes outside the frame
// and sorts frames by time.
func (ft *FaceTrack) Validate() error {
	var missing []string
	if ft.SchemaVersion == "" {
		missing = append(missing, "schema_version")
	}
	if ft.Frames == nil {
		missing = append(missing, "frames")
	}
	if len(missing) > 0 {
		return fmt.Errorf("face track missing required fields: %s", strings.Join(missing, ", "))
	}

	for i, f := range ft.Frames {
		if f.Time < 0 {
			return fmt.Errorf("frame %d has negative time %.3f", i, f.Time)
		}
		if b := f.Face; b != nil && (b.X < 0 || b.X > 1 || b.Y < 0 || b.Y > 1) {
			return fmt.Errorf("frame %d face centre (%.3f, %.3f) outside the frame", i, b.X, b.Y)
		}
	}
	sort.SliceStable(ft.Frames, func(i, j int) bool { return ft.Frames[i].Time < ft.Frames[j].Time })
	return nil
}

// HasFaces reports whether any sampled frame contains a face.
func (ft *FaceTrack) HasFaces() bool {
	if ft == nil {
		return false
	}
	for _, f := range ft.Frames {
		if f.Face != nil {
			return true
		}
	}
	return false
}

// DetectFaces samples videoPath and returns the largest face per frame.
func (r *SubprocessRunner) DetectFaces(ctx context.Context, videoPath string) (*FaceTrack, error) {
	outPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".faces.json"

	ctx, cancel := context.WithTimeout(ctx, r.cfg.FacesTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"faces", "detect",
		"--video", videoPath,
		"--fps", strconv.FormatFloat(DefaultFacesFPS, 'f', 1, 64),
		"--out", outPath,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("faces exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return r.ValidateFaces(outPath)
}

// ValidateFaces reads a face track JSON file and checks it.
func (r *SubprocessRunner) ValidateFaces(path string) (*FaceTrack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}

	var ft FaceTrack
	if err := json.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}
	if err := ft.Validate(); err != nil {
		return &ft, err
	}
	return &ft, nil
}
