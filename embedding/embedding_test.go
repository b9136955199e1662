package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// mockServer answers /v1/embeddings with [len(input), index, 0, 0] vectors,
// in reverse order to exercise reassembly by index.
func mockServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp embedResponse
		resp.Model = req.Model
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(req.Input[i])), float32(i), 0, 0}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestNoopEmbedder(t *testing.T) {
	emb := New(Config{Dimension: 8})
	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 || emb.Dimension() != 8 {
		t.Fatalf("dim: %d / %d", len(vec), emb.Dimension())
	}
	vecs, _ := emb.EmbedBatch(context.Background(), []string{"a", "b"})
	if len(vecs) != 2 {
		t.Fatalf("batch: %d", len(vecs))
	}
}

func TestOpenAIClient_BatchAndAutoDetect(t *testing.T) {
	var calls atomic.Int32
	srv := mockServer(t, &calls)
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL + "/", Model: "test-model", BatchSize: 2})
	if emb.Dimension() != 0 {
		t.Fatalf("dimension before first call: %d", emb.Dimension())
	}

	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	// WHAT: 3 texts with batch size 2 need two requests.
	if calls.Load() != 2 {
		t.Errorf("calls: %d", calls.Load())
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	if emb.Dimension() != 4 {
		t.Errorf("auto-detected dimension: %d", emb.Dimension())
	}
}

func TestOpenAIClient_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := mockServer(t, &calls)
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, Model: "m", Dimension: 768})
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFromConfig(t *testing.T) {
	emb, err := FromConfig(&config.EmbeddingConfig{Model: config.EmbeddingModel{Type: "preset", Name: "fast"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if emb.Dimension() != 384 || emb.Model() != "AllMiniLML6V2Q" {
		t.Errorf("preset: %s/%d", emb.Model(), emb.Dimension())
	}

	_, err = FromConfig(&config.EmbeddingConfig{Model: config.EmbeddingModel{Type: "custom", Model: "my-model"}}, nil)
	if !errors.Is(err, docerr.ErrMissingDependency) {
		t.Errorf("custom without endpoint: %v", err)
	}

	_, err = FromConfig(&config.EmbeddingConfig{Model: config.EmbeddingModel{Name: "huge"}}, nil)
	if !errors.Is(err, docerr.ErrNotFound) {
		t.Errorf("unknown preset: %v", err)
	}
}

func TestEmbedChunks_Normalizes(t *testing.T) {
	var calls atomic.Int32
	srv := mockServer(t, &calls)
	defer srv.Close()

	chunks := []document.Chunk{{Content: "abc"}, {Content: "de"}}
	emb := New(Config{Endpoint: srv.URL, Model: "m"})
	if err := EmbedChunks(context.Background(), emb, chunks, true); err != nil {
		t.Fatal(err)
	}
	for i, c := range chunks {
		if n := Norm(c.Embedding); math.Abs(n-1) > 1e-5 {
			t.Errorf("chunk %d norm %f", i, n)
		}
	}
	if err := EmbedChunks(context.Background(), emb, nil, true); err != nil {
		t.Errorf("empty: %v", err)
	}
}

func TestPresets(t *testing.T) {
	ps := Presets()
	if len(ps) != 4 || ps[0].Name != "balanced" {
		t.Fatalf("presets: %+v", ps)
	}
	p, err := LookupPreset("")
	if err != nil || p.Name != DefaultPreset || p.Dimensions != 768 {
		t.Errorf("default: %+v %v", p, err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	if s := CosineSimilarity(a, a); math.Abs(s-1) > 1e-6 {
		t.Errorf("identical: %f", s)
	}
	if s := CosineSimilarity(a, []float32{0, 1, 0}); math.Abs(s) > 1e-6 {
		t.Errorf("orthogonal: %f", s)
	}
	if s := CosineSimilarity(a, []float32{1, 0}); s != 0 {
		t.Errorf("length mismatch: %f", s)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	z := []float32{0, 0}
	if got := Normalize(z); got[0] != 0 {
		t.Errorf("zero vector: %v", got)
	}
}
