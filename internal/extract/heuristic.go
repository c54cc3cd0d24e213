package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/clipforge/clipforge/internal/transcribe"
)

// HeuristicRanker scores transcript windows by speech density. It needs no
// network and is deterministic, which makes it the offline default.
type HeuristicRanker struct {
	MinLen float64
	MaxLen float64
	Count  int
}

func NewHeuristicRanker() *HeuristicRanker {
	return &HeuristicRanker{MinLen: minHookSeconds, MaxLen: maxHookSeconds, Count: defaultHookCount}
}

type window struct {
	start, end float64
	words      int
	hook       string
	score      float64
}

func (h *HeuristicRanker) Rank(ctx context.Context, t *transcribe.Transcript) ([]Candidate, error) {
	segs := t.Segments
	if len(segs) == 0 {
		return nil, nil
	}

	var windows []window
	for i := range segs {
		w := window{start: segs[i].Start, hook: hookType(segs[i].Text)}
		for j := i; j < len(segs); j++ {
			if segs[j].End-w.start > h.MaxLen && j > i {
				break
			}
			w.end = segs[j].End
			w.words += len(strings.Fields(segs[j].Text))
		}
		if w.end-w.start < h.MinLen && !(i == 0 && w.end >= segs[len(segs)-1].End) {
			continue
		}
		w.score = float64(w.words) / (w.end - w.start)
		if w.hook != "statement" {
			w.score *= 1.2
		}
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	sort.SliceStable(windows, func(i, j int) bool { return windows[i].score > windows[j].score })
	best := windows[0].score

	var out []Candidate
	for _, w := range windows {
		if len(out) == h.Count {
			break
		}
		if overlapsAny(out, w.start, w.end) {
			continue
		}
		out = append(out, Candidate{
			Start:    w.start,
			End:      w.end,
			Reason:   fmt.Sprintf("dense speech, %d words in %.0fs", w.words, w.end-w.start),
			HookType: w.hook,
			Score:    w.score / best,
		})
	}
	return out, nil
}

func overlapsAny(cs []Candidate, start, end float64) bool {
	for _, c := range cs {
		if start < c.End && c.Start < end {
			return true
		}
	}
	return false
}

func hookType(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasSuffix(text, "?"):
		return "question"
	case strings.HasSuffix(text, "!"):
		return "exclamation"
	default:
		return "statement"
	}
}
