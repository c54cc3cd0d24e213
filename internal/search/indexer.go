// Package search builds and queries the per-video semantic index over a
// transcript.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/transcribe"
)

// ErrNoMatch is returned when an index exists but holds no segments.
var ErrNoMatch = errors.New("no matching segment")

// Store persists indexes. catalog.SQLRepository implements it.
type Store interface {
	SaveSearchIndex(ctx context.Context, idx *catalog.SearchIndex) error
	LoadSearchIndex(ctx context.Context, videoID string) (*catalog.SearchIndex, error)
}

type Match struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

type Indexer struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

func NewIndexer(store Store, embedder Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, logger: logger}
}

// Build embeds every segment and stores the index. An index is written once;
// building it again returns catalog.ErrConflict.
func (ix *Indexer) Build(ctx context.Context, videoID string, segments []transcribe.Segment) error {
	idx := &catalog.SearchIndex{VideoID: videoID, Model: ix.embedder.Model()}

	if len(segments) > 0 {
		texts := make([]string, len(segments))
		for i, s := range segments {
			texts[i] = s.Text
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed segments: %w", err)
		}
		if len(vecs) != len(segments) {
			return fmt.Errorf("embedder returned %d vectors for %d segments", len(vecs), len(segments))
		}
		idx.Segments = make([]catalog.SearchSegment, len(segments))
		for i, s := range segments {
			idx.Segments[i] = catalog.SearchSegment{
				Position:  i,
				Start:     s.Start,
				End:       s.End,
				Text:      s.Text,
				Embedding: vecs[i],
			}
		}
		idx.Dims = len(vecs[0])
	}

	if err := ix.store.SaveSearchIndex(ctx, idx); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	ix.logger.Info("search index built", "video_id", videoID, "segments", len(idx.Segments), "model", idx.Model)
	return nil
}

// Search returns the segment most similar to query. Ties go to the earliest
// start.
func (ix *Indexer) Search(ctx context.Context, videoID, query string) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, catalog.Invalid("query", "must not be empty")
	}

	idx, err := ix.store.LoadSearchIndex(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if len(idx.Segments) == 0 {
		return nil, ErrNoMatch
	}
	if idx.Model != ix.embedder.Model() {
		return nil, fmt.Errorf("index built with model %q, embedder is %q", idx.Model, ix.embedder.Model())
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}
	q := vecs[0]

	var best *catalog.SearchSegment
	bestScore := math.Inf(-1)
	for i := range idx.Segments {
		s := &idx.Segments[i]
		score := Cosine(q, s.Embedding)
		if score > bestScore || (score == bestScore && s.Start < best.Start) {
			best, bestScore = s, score
		}
	}
	return &Match{Start: best.Start, End: best.End, Score: bestScore, Text: best.Text}, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
