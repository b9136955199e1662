// Package embedding turns chunk text into float32 vectors through any
// OpenAI-compatible /v1/embeddings server (vLLM, Ollama, ONNX Runtime
// Server, OpenAI).
//
//	emb, err := embedding.FromConfig(cfg.Chunking.Embedding, logger)
//	err = embedding.EmbedChunks(ctx, emb, result.Chunks, true)
package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// Embedder converts text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is 0 until the first response when auto-detecting.
	Dimension() int

	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the server base URL. Empty gives the noop embedder.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector size. 0 means auto-detect.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize caps texts per request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultEmbeddingBatch
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder. With no Endpoint it returns the noop embedder,
// which produces zero vectors of cfg.Dimension (384 when unset).
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 384
		}
		cfg.Logger.Warn("embedding: no endpoint configured, using noop embedder",
			"model", cfg.Model, "dimension", dim)
		return &noopEmbedder{dim: dim, model: cfg.Model}
	}
	return newOpenAIClient(cfg)
}

// FromConfig builds an Embedder from the extraction config. Presets resolve
// to their model id and dimension. A custom model without an endpoint has no
// way to run and returns a MissingDependency error.
func FromConfig(ec *config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	if ec == nil {
		return nil, docerr.Validation("embedding: no configuration")
	}
	cfg := Config{Endpoint: ec.Endpoint, BatchSize: ec.BatchSize, Logger: logger}
	switch ec.Model.Type {
	case "", "preset":
		p, err := LookupPreset(ec.Model.Name)
		if err != nil {
			return nil, err
		}
		cfg.Model, cfg.Dimension = p.ModelID, p.Dimensions
	case "custom":
		if ec.Endpoint == "" {
			return nil, docerr.MissingDependency("embedding: custom model %q needs an endpoint", ec.Model.Model)
		}
		cfg.Model, cfg.Dimension = ec.Model.Model, ec.Model.Dimensions
	default:
		return nil, docerr.Validation("embedding: unknown model type %q", ec.Model.Type)
	}
	return New(cfg), nil
}

// EmbedChunks fills chunk.Embedding for every chunk in place.
func EmbedChunks(ctx context.Context, e Embedder, chunks []document.Chunk, normalize bool) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return docerr.Wrap(docerr.KindExecution, err, "embedding: %d chunks with %s", len(chunks), e.Model())
	}
	if len(vecs) != len(chunks) {
		return docerr.Execution("embedding: got %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i := range chunks {
		v := vecs[i]
		if normalize {
			v = Normalize(v)
		}
		chunks[i].Embedding = v
	}
	return nil
}

// noopEmbedder returns zero vectors. Used when no endpoint is configured.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.dim), nil
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
