package media

import (
	"fmt"

	"github.com/clipforge/clipforge/internal/catalog"
)

const (
	ShortsWidth  = 1080
	ShortsHeight = 1920

	targetRatio = 9.0 / 16.0
)

// Crop is an ffmpeg crop rectangle.
type Crop struct {
	W, H, X, Y int
}

func (c Crop) Filter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", c.W, c.H, c.X, c.Y)
}

// CenterCrop computes the largest centred 9:16 window of a w x h frame.
// Offsets are taken before the dimensions are rounded down to even values.
func CenterCrop(w, h int) Crop {
	var c Crop
	if float64(w)/float64(h) > targetRatio {
		c.W = int(float64(h) * targetRatio)
		c.H = h
		c.X = (w - c.W) / 2
	} else {
		c.W = w
		c.H = int(float64(w) / targetRatio)
		c.Y = (h - c.H) / 2
	}
	c.W -= c.W % 2
	c.H -= c.H % 2
	return c
}

var fitFilter = fmt.Sprintf(
	"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
	ShortsWidth, ShortsHeight, ShortsWidth, ShortsHeight,
)

// blurredGraph fills the frame with a blurred, cropped copy of the input and
// overlays the whole input, scaled to fit, in the middle.
var blurredGraph = fmt.Sprintf(
	"[0:v]scale=%[1]d:%[2]d:force_original_aspect_ratio=increase,crop=%[1]d:%[2]d,boxblur=20:5[bg];"+
		"[0:v]scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease[fg];"+
		"[bg][fg]overlay=(W-w)/2:(H-h)/2,setsar=1[v]",
	ShortsWidth, ShortsHeight,
)

func reframeArgs(in, out, layout string, probe *Probe) ([]string, error) {
	args := []string{"-i", in}

	switch layout {
	case catalog.LayoutCenterCrop, "":
		if probe == nil || probe.Width <= 0 || probe.Height <= 0 {
			return nil, fmt.Errorf("center_crop needs source dimensions")
		}
		crop := CenterCrop(probe.Width, probe.Height)
		args = append(args, "-vf", crop.Filter()+","+fitFilter)
	case catalog.LayoutSmart:
		if probe == nil || probe.Width <= 0 || probe.Height <= 0 {
			return nil, fmt.Errorf("smart needs source dimensions")
		}
		args = append(args, "-vf", SubjectCrop(probe.Width, probe.Height, probe.Subject)+","+fitFilter)
	case catalog.LayoutBlurred:
		args = append(args, "-filter_complex", blurredGraph, "-map", "[v]", "-map", "0:a?")
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}

	return append(args,
		"-c:v", "libx264", "-preset", "fast",
		"-c:a", "aac",
		"-y", out,
	), nil
}
