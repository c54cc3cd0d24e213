// Package media wraps ffmpeg/ffprobe for cutting clips and reframing them
// into vertical shorts.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const maxStderrBytes = 4 * 1024

type Probe struct {
	Width    int
	Height   int
	Duration float64 // seconds, 0 when unknown

	// Subject is the smoothed face track used by the smart layout.
	Subject []SubjectPoint
}

type FFmpeg interface {
	Probe(ctx context.Context, path string) (*Probe, error)
	// Cut re-encodes [start, end) of in into out.
	Cut(ctx context.Context, in, out string, start, end float64) error
	// Reframe renders in as a 1080x1920 portrait video using layout.
	Reframe(ctx context.Context, in, out, layout string, probe *Probe) error
}

// ExecFFmpeg runs the ffmpeg and ffprobe binaries.
type ExecFFmpeg struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration, logger *slog.Logger) *ExecFFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecFFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, timeout: timeout, logger: logger}
}

// Available reports whether both binaries resolve on PATH.
func (f *ExecFFmpeg) Available() bool {
	_, err1 := exec.LookPath(f.ffmpeg)
	_, err2 := exec.LookPath(f.ffprobe)
	return err1 == nil && err2 == nil
}

func (f *ExecFFmpeg) Probe(ctx context.Context, path string) (*Probe, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func (f *ExecFFmpeg) Cut(ctx context.Context, in, out string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("invalid cut [%.3f, %.3f]", start, end)
	}
	_, err := f.run(ctx, f.ffmpeg, cutArgs(in, out, start, end)...)
	return err
}

func (f *ExecFFmpeg) Reframe(ctx context.Context, in, out, layout string, probe *Probe) error {
	args, err := reframeArgs(in, out, layout, probe)
	if err != nil {
		return err
	}
	_, err = f.run(ctx, f.ffmpeg, args...)
	return err
}

func (f *ExecFFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &tailWriter{buf: &stderr, limit: maxStderrBytes}

	err := cmd.Run()
	if err != nil {
		f.logger.Warn("media command failed",
			"bin", bin,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%s: %w: %s", bin, err, bytes.TrimSpace(stderr.Bytes()))
	}
	f.logger.Debug("media command finished", "bin", bin, "duration_ms", time.Since(start).Milliseconds())
	return stdout.Bytes(), nil
}

func cutArgs(in, out string, start, end float64) []string {
	return []string{
		"-i", in,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(end - start),
		"-c:v", "libx264", "-preset", "fast",
		"-c:a", "aac",
		"-y", out,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

type probeJSON struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (*Probe, error) {
	var pj probeJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(pj.Streams) == 0 || pj.Streams[0].Width <= 0 || pj.Streams[0].Height <= 0 {
		return nil, fmt.Errorf("no video stream")
	}
	p := &Probe{Width: pj.Streams[0].Width, Height: pj.Streams[0].Height}
	if pj.Format.Duration != "" {
		if d, err := strconv.ParseFloat(pj.Format.Duration, 64); err == nil {
			p.Duration = d
		}
	}
	return p, nil
}

type tailWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf.Write(p)
	if w.buf.Len() > w.limit {
		tail := append([]byte(nil), w.buf.Bytes()[w.buf.Len()-w.limit:]...)
		w.buf.Reset()
		w.buf.Write(tail)
	}
	return n, nil
}
