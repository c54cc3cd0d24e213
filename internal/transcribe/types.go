// Package transcribe runs the external speech-to-text CLI as a subprocess
// (`python -m <module> transcribe|faces|doctor`) and parses its JSON output.
package transcribe

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Capabilities is what the installed transcription package reports via
// `doctor --json`.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasTranscribe bool      `json:"has_transcribe"`
	HasFFmpeg     bool      `json:"has_ffmpeg"`
	HasFaces      bool      `json:"has_faces"`
	ProbedAt      time.Time `json:"probed_at"`
}

type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of one subprocess execution.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Segment is one timed span of transcript text, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// Transcript is the document written by `transcribe --out`.
type Transcript struct {
	SchemaVersion string    `json:"schema_version"`
	ModelVersion  string    `json:"model_version"`
	Language      string    `json:"language,omitempty"`
	Duration      float64   `json:"duration,omitempty"`
	Segments      []Segment `json:"segments"`
}

// Validate checks the required metadata and segment bounds, then drops
// blank segments and sorts the rest by start time.
func (t *Transcript) Validate() error {
	var missing []string
	if t.SchemaVersion == "" {
		missing = append(missing, "schema_version")
	}
	if t.ModelVersion == "" {
		missing = append(missing, "model_version")
	}
	if t.Segments == nil {
		missing = append(missing, "segments")
	}
	if len(missing) > 0 {
		return fmt.Errorf("transcript missing required fields: %s", strings.Join(missing, ", "))
	}

	kept := t.Segments[:0]
	for i, s := range t.Segments {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("segment %d has invalid bounds [%.3f, %.3f]", i, s.Start, s.End)
		}
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" || s.End == s.Start {
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	t.Segments = kept

	if t.Duration == 0 && len(kept) > 0 {
		t.Duration = kept[len(kept)-1].End
	}
	return nil
}

// Text joins all segment texts with spaces.
func (t *Transcript) Text() string {
	parts := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
