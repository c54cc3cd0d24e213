package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/transcribe"
)

const (
	// SmoothWindow is the moving-average width, in sampled frames.
	SmoothWindow = 5

	// maxKeyframes caps the crop expression so long clips stay parseable.
	maxKeyframes = 32
)

// FaceDetector finds the main face in each sampled frame of a local clip.
type FaceDetector interface {
	DetectFaces(ctx context.Context, videoPath string) (*transcribe.FaceTrack, error)
}

// SubjectPoint is the smoothed, normalised subject centre at time T.
type SubjectPoint struct {
	T, X, Y float64
}

// SmoothTrack fills frames without a face with the last known centre
// (the frame centre before the first detection) and applies a centred
// moving average of width window.
func SmoothTrack(frames []transcribe.FaceFrame, window int) []SubjectPoint {
	if len(frames) == 0 {
		return nil
	}
	if window < 1 {
		window = 1
	}

	filled := make([]SubjectPoint, len(frames))
	last := SubjectPoint{X: 0.5, Y: 0.5}
	for i, f := range frames {
		if f.Face != nil {
			last = SubjectPoint{X: f.Face.X, Y: f.Face.Y}
		}
		filled[i] = SubjectPoint{T: f.Time, X: last.X, Y: last.Y}
	}

	half := window / 2
	out := make([]SubjectPoint, len(filled))
	for i := range filled {
		lo := max(0, i-half)
		hi := min(len(filled), i+half+1)
		var sx, sy float64
		for _, p := range filled[lo:hi] {
			sx += p.X
			sy += p.Y
		}
		n := float64(hi - lo)
		out[i] = SubjectPoint{T: filled[i].T, X: sx / n, Y: sy / n}
	}
	return out
}

// SubjectCrop builds a 9:16 crop of a w x h frame whose free axis follows
// track. The offset is interpolated linearly between keyframes; a track that
// never moves the window yields a static crop. An empty track is centred.
func SubjectCrop(w, h int, track []SubjectPoint) string {
	c := CenterCrop(w, h)
	if len(track) == 0 {
		return c.Filter()
	}

	keys := thinKeyframes(track, maxKeyframes)
	xs := make([]int, len(keys))
	ys := make([]int, len(keys))
	for i, p := range keys {
		xs[i] = clampOffset(p.X*float64(w)-float64(c.W)/2, w-c.W)
		ys[i] = clampOffset(p.Y*float64(h)-float64(c.H)/2, h-c.H)
	}
	return fmt.Sprintf("crop=w=%d:h=%d:x=%s:y=%s", c.W, c.H, offsetExpr(keys, xs), offsetExpr(keys, ys))
}

func clampOffset(v float64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return max(0, min(int(math.Round(v)), limit))
}

// thinKeyframes keeps at most n evenly spaced points, always including the
// first and the last.
func thinKeyframes(track []SubjectPoint, n int) []SubjectPoint {
	if len(track) <= n || n < 2 {
		return track
	}
	out := make([]SubjectPoint, n)
	step := float64(len(track)-1) / float64(n-1)
	for i := range out {
		out[i] = track[int(math.Round(float64(i)*step))]
	}
	return out
}

// offsetExpr renders a piecewise-linear ffmpeg expression of t through
// (keys[i].T, vals[i]). Before the first and after the last keyframe the
// offset holds.
func offsetExpr(keys []SubjectPoint, vals []int) string {
	static := true
	for _, v := range vals[1:] {
		if v != vals[0] {
			static = false
			break
		}
	}
	if static {
		return strconv.Itoa(vals[0])
	}

	var b strings.Builder
	b.WriteByte('\'')
	last := len(vals) - 1
	for i := 0; i < last; i++ {
		fmt.Fprintf(&b, "if(lt(t,%s),%s,", formatSeconds(keys[i+1].T), lerpExpr(keys[i].T, keys[i+1].T, vals[i], vals[i+1]))
	}
	b.WriteString(strconv.Itoa(vals[last]))
	b.WriteString(strings.Repeat(")", last))
	b.WriteByte('\'')
	return b.String()
}

func lerpExpr(t0, t1 float64, v0, v1 int) string {
	if v0 == v1 || t1 <= t0 {
		return strconv.Itoa(v0)
	}
	return fmt.Sprintf("%d%+d*clip((t-%s)/%s,0,1)", v0, v1-v0, formatSeconds(t0), formatSeconds(t1-t0))
}
