package api

import (
	"time"

	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/transcribe"
)

type HealthResponse struct {
	Status      string             `json:"status"`
	Version     string             `json:"version"`
	UptimeS     int64              `json:"uptime_s"`
	Workers     *WorkersResponse   `json:"workers,omitempty"`
	Transcriber *TranscriberStatus `json:"transcriber,omitempty"`
}

type WorkersResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type TranscriberStatus struct {
	PackageVersion string `json:"package_version,omitempty"`
	HasTranscribe  bool   `json:"has_transcribe"`
	HasFFmpeg      bool   `json:"has_ffmpeg"`
	HasFaces       bool   `json:"has_faces"`
	CUDA           bool   `json:"cuda"`
	DepsAvail      int    `json:"deps_available"`
	DepsTotal      int    `json:"deps_total"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type IngestURLRequest struct {
	URL string `json:"url"`
}

type ConvertRequest struct {
	Layout string `json:"layout,omitempty"`
}

type DownloadResponse struct {
	URL string `json:"url"`
}

type VideosResponse struct {
	Videos []pipeline.VideoView `json:"videos"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func CapabilitiesToStatus(c *transcribe.Capabilities) *TranscriberStatus {
	if c == nil {
		return nil
	}
	s := &TranscriberStatus{
		PackageVersion: c.PackageVersion,
		HasTranscribe:  c.HasTranscribe,
		HasFFmpeg:      c.HasFFmpeg,
		HasFaces:       c.HasFaces,
		CUDA:           c.GPU.CUDAAvailable,
		DepsAvail:      c.Summary.Available,
		DepsTotal:      c.Summary.Total,
	}
	if !c.ProbedAt.IsZero() {
		s.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return s
}
