package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/logging"
)

const maxStderrBytes = 8 * 1024

// Transcriber turns a local media file into a timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string) (*Transcript, error)
}

// Runner executes the transcription CLI.
type Runner interface {
	Transcriber

	// RunDoctor executes `python -m <module> doctor --json --out <path>`.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// DetectFaces executes `python -m <module> faces detect` on a clip.
	DetectFaces(ctx context.Context, videoPath string) (*FaceTrack, error)
}

type Config struct {
	PythonPath    string // empty = auto-detect
	ModuleName    string
	WorkDir       string // doctor output lives here
	DoctorTimeout time.Duration
	Timeout       time.Duration
	FacesTimeout  time.Duration
	Logger        *slog.Logger
	DebugPaths    bool
}

func DefaultConfig(workDir string, logger *slog.Logger) Config {
	return Config{
		ModuleName:    "clipforge_transcribe",
		WorkDir:       workDir,
		DoctorTimeout: 30 * time.Second,
		Timeout:       30 * time.Minute,
		FacesTimeout:  15 * time.Minute,
		Logger:        logger,
	}
}

// SubprocessRunner is the production Runner.
type SubprocessRunner struct {
	cfg    Config
	python string
}

func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}

	cfg.Logger.Info("transcription runner initialised",
		"python", python,
		"module", cfg.ModuleName,
	)
	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.WorkDir, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}
	caps.HasFFmpeg = isAvailable(caps.Executables, "ffmpeg")
	caps.HasTranscribe = isAvailable(caps.Dependencies, "whisper") && caps.HasFFmpeg
	caps.HasFaces = isAvailable(caps.Dependencies, "cv2") && caps.HasFFmpeg
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("doctor probe complete",
		"transcribe", caps.HasTranscribe,
		"ffmpeg", caps.HasFFmpeg,
		"faces", caps.HasFaces,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)
	return &caps, nil
}

// Transcribe writes the transcript next to the video and parses it.
func (r *SubprocessRunner) Transcribe(ctx context.Context, videoPath string) (*Transcript, error) {
	outPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".transcript.json"

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	result := r.exec(ctx, outPath, "transcribe", "--video", videoPath, "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("transcribe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return r.ValidateOutput(outPath)
}

// ValidateOutput reads a transcript JSON file and checks it.
func (r *SubprocessRunner) ValidateOutput(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return &t, err
	}
	return &t, nil
}

func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	r.cfg.Logger.Debug("executing transcription command", "args", args[0])

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		r.cfg.Logger.Warn("transcription command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("transcription command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	sanitized := logging.SanitizePath(path)
	if sanitized == path {
		return filepath.Base(path)
	}
	return sanitized
}

func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
