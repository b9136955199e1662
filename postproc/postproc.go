// Package postproc runs the fixed post-extraction pipeline over a Result:
//
//	quality → language → keywords → chunking → hierarchy → embeddings →
//	token reduction → registered post-processors → validators
//
// Each built-in stage runs only when its config section is present and
// enabled. Errors carry the failing stage in docerr.Error.Stage and stop the
// pipeline; nothing is retried.
package postproc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docextract/chunk"
	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/embedding"
	"github.com/hazyhaar/docextract/hierarchy"
	"github.com/hazyhaar/docextract/keywords"
	"github.com/hazyhaar/docextract/langdetect"
	"github.com/hazyhaar/docextract/plugin"
	"github.com/hazyhaar/docextract/tokenreduce"
)

// Stage names, as reported in docerr.Error.Stage.
const (
	StageQuality        = "quality"
	StageLanguage       = "language"
	StageKeywords       = "keywords"
	StageChunking       = "chunking"
	StageHierarchy      = "hierarchy"
	StageEmbedding      = "embedding"
	StageTokenReduction = "token_reduction"
)

// Pipeline runs the stages. It is safe for concurrent use.
type Pipeline struct {
	registry *plugin.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	embedders map[string]embedding.Embedder
}

// New returns a Pipeline reading post-processors and validators from reg.
func New(reg *plugin.Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: reg, logger: logger, embedders: make(map[string]embedding.Embedder)}
}

// Run processes r in place and returns it, or the returned result of the
// last post-processor that replaced it. cfg must have defaults applied.
func (p *Pipeline) Run(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) (*document.Result, error) {
	if r == nil {
		return nil, docerr.Internal("postproc: nil result")
	}
	if cfg == nil {
		cfg = config.New()
	}

	stages := []struct {
		name string
		fn   func(context.Context, *document.Result, *config.ExtractionConfig) error
	}{
		{StageQuality, p.quality},
		{StageLanguage, p.language},
		{StageKeywords, p.keywords},
		{StageChunking, p.chunking},
		{StageHierarchy, p.hierarchy},
		{StageEmbedding, p.embed},
		{StageTokenReduction, p.reduce},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, docerr.FromContext(err)
		}
		start := time.Now()
		if err := s.fn(ctx, r, cfg); err != nil {
			return nil, withStage(err, docerr.KindExecution, s.name)
		}
		p.logger.Debug("postproc: stage done", "stage", s.name, "duration", time.Since(start))
	}

	r, err := p.plugins(ctx, r, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.validate(ctx, r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func withStage(err error, fallback docerr.Kind, stage string) error {
	e := docerr.Ensure(err, fallback)
	if e.Stage == "" {
		e.Stage = stage
	}
	return e
}

func (p *Pipeline) quality(_ context.Context, r *document.Result, _ *config.ExtractionConfig) error {
	cleaned := Clean(r.Content)
	// Offsets in Pages and Blocks point into the extractor's content; a
	// rewrite would invalidate them.
	if cleaned != r.Content && len(r.Pages) == 0 && len(r.Blocks) == 0 {
		r.Content = cleaned
	}
	q := Measure(r.Content)
	r.Metadata.QualityScore = &q.Score
	if q.VisualRefCount > 0 {
		r.Metadata.Set("visual_ref_count", q.VisualRefCount)
	}
	return nil
}

func (p *Pipeline) language(_ context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if !cfg.LanguageDetection.Active() {
		return nil
	}
	langs := langdetect.Detect(r.Content, cfg.LanguageDetection)
	r.DetectedLanguages = langs
	if r.Metadata.Language == "" && len(langs) > 0 {
		r.Metadata.Language = langs[0]
	}
	return nil
}

func (p *Pipeline) keywords(_ context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if cfg.Keywords == nil {
		return nil
	}
	kws, err := keywords.Extract(r.Content, cfg.Keywords)
	if err != nil {
		return err
	}
	r.Keywords = kws
	return nil
}

func (p *Pipeline) chunking(_ context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if cfg.Chunking == nil {
		return nil
	}
	opts := chunk.Options{
		MaxChars:   cfg.Chunking.MaxChars,
		MaxOverlap: cfg.Chunking.MaxOverlap,
		Headings:   headings(r),
	}
	for _, pg := range r.Pages {
		opts.Pages = append(opts.Pages, chunk.PageSpan{Number: pg.PageNumber, Start: pg.CharStart, End: pg.CharEnd})
	}
	r.Chunks = chunk.Split(r.Content, opts)
	return nil
}

// headings merges structural heading blocks with markdown heading lines.
func headings(r *document.Result) []chunk.Heading {
	hs := chunk.MarkdownHeadings(r.Content)
	if len(hs) > 0 {
		return hs
	}
	n := utf8.RuneCountInString(r.Content)
	for _, b := range r.Blocks {
		if b.Level > 0 && b.CharStart >= 0 && b.CharStart < n {
			hs = append(hs, chunk.Heading{Offset: b.CharStart, Text: b.Text})
		}
	}
	return hs
}

func (p *Pipeline) hierarchy(_ context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if !cfg.Hierarchy.Active() || len(r.Blocks) == 0 {
		return nil
	}
	r.Blocks = hierarchy.Assign(r.Blocks, cfg.Hierarchy)
	return nil
}

func (p *Pipeline) embed(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if cfg.Chunking == nil || cfg.Chunking.Embedding == nil || len(r.Chunks) == 0 {
		return nil
	}
	e, err := p.embedder(cfg.Chunking.Embedding)
	if err != nil {
		return err
	}
	return embedding.EmbedChunks(ctx, e, r.Chunks, cfg.Chunking.Embedding.ShouldNormalize())
}

// embedder returns one client per distinct embedding config.
func (p *Pipeline) embedder(ec *config.EmbeddingConfig) (embedding.Embedder, error) {
	raw, _ := json.Marshal(ec)
	key := string(raw)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.embedders[key]; ok {
		return e, nil
	}
	e, err := embedding.FromConfig(ec, p.logger)
	if err != nil {
		return nil, err
	}
	p.embedders[key] = e
	return e, nil
}

// reduce shrinks Content and each chunk. Chunk offsets keep pointing into
// the unreduced text.
func (p *Pipeline) reduce(_ context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if !cfg.TokenReduction.Active() {
		return nil
	}
	lang := "en"
	if len(r.DetectedLanguages) > 0 {
		lang = r.DetectedLanguages[0]
	}
	opts, err := tokenreduce.FromConfig(cfg.TokenReduction, lang)
	if err != nil {
		return err
	}
	for _, k := range r.Keywords {
		opts.Keywords = append(opts.Keywords, k.Text)
	}
	before := r.Content
	r.Content = tokenreduce.Reduce(r.Content, opts)
	for i := range r.Chunks {
		r.Chunks[i].Content = tokenreduce.Reduce(r.Chunks[i].Content, opts)
	}
	r.Metadata.Set("token_reduction", map[string]any{
		"mode":  cfg.TokenReduction.Mode,
		"ratio": tokenreduce.Ratio(before, r.Content),
	})
	return nil
}

func (p *Pipeline) plugins(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) (*document.Result, error) {
	if p.registry == nil || !cfg.PostProcessor.Active() {
		return r, nil
	}
	for _, pp := range p.registry.PostProcessors() {
		name := pp.Name()
		if !cfg.PostProcessor.Allows(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, docerr.FromContext(err)
		}
		stage := "postprocessor:" + name
		out, err := docerr.Guard(stage, map[string]string{"mime": r.MimeType}, func() (*document.Result, error) {
			return pp.Process(ctx, r, cfg)
		})
		if err != nil {
			return nil, withStage(err, docerr.KindPlugin, stage)
		}
		if out != nil {
			r = out
		}
	}
	return r, nil
}

func (p *Pipeline) validate(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) error {
	if p.registry == nil {
		return nil
	}
	for _, v := range p.registry.Validators() {
		stage := "validator:" + v.Name()
		_, err := docerr.Guard(stage, map[string]string{"mime": r.MimeType}, func() (struct{}, error) {
			return struct{}{}, v.Validate(ctx, r, cfg)
		})
		if err != nil {
			return withStage(err, docerr.KindValidation, stage)
		}
	}
	return nil
}
