package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/clipforge/clipforge/internal/extract"
)

type OverlapRule string

const (
	// OverlapFraction measures overlap as a share of the shorter of the two
	// windows, so a window containing another counts as fully overlapping.
	OverlapFraction OverlapRule = "fraction"
	// OverlapIoU measures intersection over union of the two windows.
	OverlapIoU OverlapRule = "iou"
)

type SelectionConfig struct {
	MaxCandidates int
	MinDuration   float64 // seconds
	MaxOverlap    float64 // (0, 1]
	Rule          OverlapRule
}

func DefaultSelection() SelectionConfig {
	return SelectionConfig{MaxCandidates: 5, MinDuration: 5, MaxOverlap: 0.5, Rule: OverlapFraction}
}

func ParseOverlapRule(s string) (OverlapRule, error) {
	switch OverlapRule(s) {
	case OverlapFraction, OverlapIoU:
		return OverlapRule(s), nil
	case "":
		return OverlapFraction, nil
	}
	return "", fmt.Errorf("unknown overlap rule %q", s)
}

// SelectSegments picks the candidates to render. Candidates are taken in
// score order (earliest start first on ties), clamped to [0, duration] when
// duration is known, and dropped when shorter than MinDuration or when they
// overlap an already accepted segment by more than MaxOverlap. At most
// MaxCandidates are returned, in acceptance order.
func SelectSegments(cands []extract.Candidate, duration float64, cfg SelectionConfig) []extract.Candidate {
	ranked := make([]extract.Candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Start < ranked[j].Start
	})

	var accepted []extract.Candidate
	for _, c := range ranked {
		if cfg.MaxCandidates > 0 && len(accepted) >= cfg.MaxCandidates {
			break
		}
		if math.IsNaN(c.Start) || math.IsNaN(c.End) {
			continue
		}
		if duration > 0 {
			c.Start = math.Max(c.Start, 0)
			c.End = math.Min(c.End, duration)
		}
		if c.Start < 0 || c.End <= c.Start || c.Duration() < cfg.MinDuration {
			continue
		}
		if overlapsAccepted(accepted, c, cfg) {
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted
}

func overlapsAccepted(accepted []extract.Candidate, c extract.Candidate, cfg SelectionConfig) bool {
	for _, a := range accepted {
		if Overlap(c, a, cfg.Rule) > cfg.MaxOverlap {
			return true
		}
	}
	return false
}

// Overlap scores how much c overlaps other under rule, in [0, 1].
func Overlap(c, other extract.Candidate, rule OverlapRule) float64 {
	inter := math.Min(c.End, other.End) - math.Max(c.Start, other.Start)
	if inter <= 0 {
		return 0
	}
	switch rule {
	case OverlapIoU:
		union := math.Max(c.End, other.End) - math.Min(c.Start, other.Start)
		return inter / union
	default:
		return inter / math.Min(c.Duration(), other.Duration())
	}
}
