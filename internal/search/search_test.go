package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/transcribe"
)

type memStore struct {
	mu      sync.Mutex
	indexes map[string]*catalog.SearchIndex
}

func newMemStore() *memStore {
	return &memStore{indexes: make(map[string]*catalog.SearchIndex)}
}

func (m *memStore) SaveSearchIndex(ctx context.Context, idx *catalog.SearchIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[idx.VideoID]; ok {
		return catalog.ErrConflict
	}
	m.indexes[idx.VideoID] = idx
	return nil
}

func (m *memStore) LoadSearchIndex(ctx context.Context, videoID string) (*catalog.SearchIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[videoID]
	if !ok {
		return nil, catalog.ErrNotIndexed
	}
	return idx, nil
}

var talk = []transcribe.Segment{
	{Start: 0, End: 8, Text: "Welcome back to the channel everyone"},
	{Start: 8, End: 20, Text: "Today we are baking sourdough bread from scratch"},
	{Start: 20, End: 31, Text: "The starter needs flour and water every day"},
	{Start: 31, End: 45, Text: "Finally the oven must be very hot for the crust"},
}

func TestTokenize(t *testing.T) {
	got := strings.Join(Tokenize("It's the OVEN, at 250C!  ok?"), ",")
	if got != "the,oven,250c" {
		t.Errorf("Tokenize() = %q", got)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("Cosine(same) = %v", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("Cosine(orthogonal) = %v", got)
	}
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Errorf("Cosine(zero) = %v", got)
	}
	if got := Cosine([]float64{1}, []float64{1, 1}); got != 0 {
		t.Errorf("Cosine(mismatched) = %v", got)
	}
}

func TestIndexer_BuildAndSearch(t *testing.T) {
	store := newMemStore()
	ix := NewIndexer(store, NewHashEmbedder(0), logging.Discard())
	ctx := context.Background()

	if err := ix.Build(ctx, "v1", talk); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m, err := ix.Search(ctx, "v1", "sourdough bread")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if m.Start != 8 || m.End != 20 {
		t.Errorf("match = %+v, want the sourdough segment", m)
	}
	if m.Start < 0 || m.Start >= m.End || m.Score <= 0 || m.Score > 1.0000001 {
		t.Errorf("match bounds/score = %+v", m)
	}

	again, _ := ix.Search(ctx, "v1", "sourdough bread")
	if *again != *m {
		t.Errorf("search not deterministic: %+v vs %+v", again, m)
	}

	if err := ix.Build(ctx, "v1", talk); !errors.Is(err, catalog.ErrConflict) {
		t.Errorf("second Build() error = %v, want ErrConflict", err)
	}
}

func TestIndexer_TiesGoToEarliestStart(t *testing.T) {
	ix := NewIndexer(newMemStore(), NewHashEmbedder(64), logging.Discard())
	ctx := context.Background()
	segs := []transcribe.Segment{
		{Start: 30, End: 40, Text: "unrelated words entirely"},
		{Start: 50, End: 60, Text: "repeat chorus line"},
		{Start: 10, End: 20, Text: "repeat chorus line"},
	}
	ix.Build(ctx, "v1", segs)

	m, err := ix.Search(ctx, "v1", "chorus")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if m.Start != 10 {
		t.Errorf("Start = %v, want 10", m.Start)
	}
}

func TestIndexer_Errors(t *testing.T) {
	ix := NewIndexer(newMemStore(), NewHashEmbedder(0), logging.Discard())
	ctx := context.Background()

	if _, err := ix.Search(ctx, "missing", "bread"); !errors.Is(err, catalog.ErrNotIndexed) {
		t.Errorf("Search(missing) error = %v, want ErrNotIndexed", err)
	}

	ix.Build(ctx, "v1", talk)
	if _, err := ix.Search(ctx, "v1", "   "); !catalog.IsValidation(err) {
		t.Errorf("Search(empty query) error = %v, want ValidationError", err)
	}

	if err := ix.Build(ctx, "silent", nil); err != nil {
		t.Fatalf("Build(empty) error = %v", err)
	}
	if _, err := ix.Search(ctx, "silent", "bread"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Search(empty index) error = %v, want ErrNoMatch", err)
	}

	other := NewIndexer(ix.store, NewHashEmbedder(32), logging.Discard())
	if _, err := other.Search(ctx, "v1", "bread"); err == nil {
		t.Error("Search() with a different model should fail")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		calls++
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, len(req.Input))
		// reversed order to check index mapping
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float64{float64(j), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIEmbedderConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatal(err)
	}
	texts := make([]string, openAIBatchSize+3)
	for i := range texts {
		texts[i] = "t"
	}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 batches", calls)
	}
	if len(vecs) != len(texts) || vecs[5][0] != 5 || vecs[openAIBatchSize+1][0] != 1 {
		t.Errorf("vectors mis-ordered: len=%d", len(vecs))
	}
}
