// Package extract turns a video into ranked highlight candidates: it
// transcribes the audio and asks a Ranker which windows of the transcript
// make good standalone clips.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/clipforge/clipforge/internal/transcribe"
)

// Candidate is one proposed highlight, in seconds of the source video.
type Candidate struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Reason   string  `json:"reason"`
	HookType string  `json:"hook_type,omitempty"`
	Score    float64 `json:"virality_score"` // 0..1
}

func (c Candidate) Duration() float64 { return c.End - c.Start }

// Ranker proposes candidates from a transcript, best first.
type Ranker interface {
	Rank(ctx context.Context, t *transcribe.Transcript) ([]Candidate, error)
}

// Result is everything extraction learns about a video.
type Result struct {
	Transcript *transcribe.Transcript
	Candidates []Candidate
}

type Extractor interface {
	Extract(ctx context.Context, videoPath string) (*Result, error)
}

// Service is the Extractor backed by a transcriber and a ranker.
type Service struct {
	transcriber transcribe.Transcriber
	ranker      Ranker
	logger      *slog.Logger
}

func NewService(tr transcribe.Transcriber, ranker Ranker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{transcriber: tr, ranker: ranker, logger: logger}
}

func (s *Service) Extract(ctx context.Context, videoPath string) (*Result, error) {
	start := time.Now()
	t, err := s.transcriber.Transcribe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	res := &Result{Transcript: t}
	if len(t.Segments) == 0 {
		s.logger.Info("empty transcript, nothing to rank")
		return res, nil
	}

	cands, err := s.ranker.Rank(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}
	res.Candidates = normalize(cands)

	s.logger.Info("extraction finished",
		"segments", len(t.Segments),
		"candidates", len(res.Candidates),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// normalize drops unusable windows, clamps scores to [0,1] and sorts by
// score descending. Equal scores keep the ranker's order.
func normalize(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if math.IsNaN(c.Start) || math.IsNaN(c.End) || c.Start < 0 || c.End <= c.Start {
			continue
		}
		c.Score = clampScore(c.Score)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// clampScore accepts both 0..1 and 0..100 scales.
func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		v /= 100
	}
	return math.Min(v, 1)
}
