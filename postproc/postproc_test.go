package postproc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/plugin"
)

const sample = "# Document Extraction\n\n" +
	"Document extraction turns files into text. The extraction pipeline reads PDF files, " +
	"office documents and images, then runs keyword extraction and chunking over the text.\n\n" +
	"## Chunking\n\n" +
	"Chunking splits the extracted text into overlapping pieces so that retrieval systems " +
	"can embed each piece. Good chunking keeps paragraphs and headings together."

type recorder struct {
	name  string
	stage plugin.Stage
	log   *[]string
	fail  bool
	panic bool
}

func (r *recorder) Name() string                  { return r.name }
func (r *recorder) ProcessingStage() plugin.Stage { return r.stage }

func (r *recorder) Process(_ context.Context, res *document.Result, _ *config.ExtractionConfig) (*document.Result, error) {
	*r.log = append(*r.log, r.name)
	if r.panic {
		panic("boom")
	}
	if r.fail {
		return nil, errors.New("processor failed")
	}
	res.Metadata.Set("seen_by_"+r.name, true)
	return res, nil
}

type minLength struct {
	n   int
	log *[]string
}

func (m minLength) Name() string { return "min_length" }

func (m minLength) Validate(_ context.Context, r *document.Result, _ *config.ExtractionConfig) error {
	*m.log = append(*m.log, "min_length")
	if len(r.Content) < m.n {
		return docerr.Validation("content shorter than %d", m.n)
	}
	return nil
}

type never struct{ log *[]string }

func (never) Name() string { return "never" }
func (n never) Validate(context.Context, *document.Result, *config.ExtractionConfig) error {
	*n.log = append(*n.log, "never")
	return nil
}

func fullConfig() *config.ExtractionConfig {
	return (&config.ExtractionConfig{
		LanguageDetection: &config.LanguageDetectionConfig{MinConfidence: 0.1},
		Keywords:          &config.KeywordConfig{MaxKeywords: 5},
		Chunking:          &config.ChunkingConfig{MaxChars: 200, MaxOverlap: 20},
		Hierarchy:         &config.HierarchyConfig{},
	}).WithDefaults()
}

func TestRun_AllStages(t *testing.T) {
	p := New(plugin.NewRegistry(nil), nil)
	r, err := p.Run(context.Background(), &document.Result{Content: sample, MimeType: "text/markdown"}, fullConfig())
	if err != nil {
		t.Fatal(err)
	}
	if r.Metadata.QualityScore == nil || *r.Metadata.QualityScore <= 0.5 {
		t.Errorf("quality score: %v", r.Metadata.QualityScore)
	}
	if len(r.DetectedLanguages) == 0 || r.DetectedLanguages[0] != "eng" || r.Metadata.Language != "eng" {
		t.Errorf("languages: %v / %q", r.DetectedLanguages, r.Metadata.Language)
	}
	if len(r.Keywords) == 0 || len(r.Keywords) > 5 {
		t.Errorf("keywords: %+v", r.Keywords)
	}
	if len(r.Chunks) < 2 {
		t.Fatalf("chunks: %d", len(r.Chunks))
	}
	for i, c := range r.Chunks {
		if c.Metadata.ChunkIndex != i || c.Metadata.TotalChunks != len(r.Chunks) {
			t.Errorf("chunk %d metadata %+v", i, c.Metadata)
		}
	}
}

func TestRun_DisabledStagesLeaveResultAlone(t *testing.T) {
	p := New(nil, nil)
	r, err := p.Run(context.Background(), &document.Result{Content: sample}, config.New().WithDefaults())
	if err != nil {
		t.Fatal(err)
	}
	if r.Keywords != nil || r.Chunks != nil || r.DetectedLanguages != nil {
		t.Errorf("stages ran without config: %+v", r)
	}
}

func TestRun_PostProcessorOrderAndFilter(t *testing.T) {
	var log []string
	reg := plugin.NewRegistry(nil)
	for _, pp := range []*recorder{
		{name: "late", stage: plugin.StageLate, log: &log},
		{name: "m1", stage: plugin.StageMiddle, log: &log},
		{name: "early", stage: plugin.StageEarly, log: &log},
		{name: "skipped", stage: plugin.StageMiddle, log: &log},
	} {
		if err := reg.RegisterPostProcessor(pp); err != nil {
			t.Fatal(err)
		}
	}
	reg.RegisterValidator(minLength{n: 5, log: &log})
	reg.RegisterValidator(never{log: &log})

	cfg := config.New()
	cfg.PostProcessor = &config.PostProcessorConfig{DisabledProcessors: []string{"skipped"}}
	r, err := New(reg, nil).Run(context.Background(), &document.Result{Content: sample}, cfg.WithDefaults())
	if err != nil {
		t.Fatal(err)
	}
	want := "early m1 late min_length never"
	if got := strings.Join(log, " "); got != want {
		t.Errorf("order: %q, want %q", got, want)
	}
	if r.Metadata.Additional["seen_by_late"] != true {
		t.Errorf("metadata: %+v", r.Metadata.Additional)
	}
}

func TestRun_ValidatorFailsFast(t *testing.T) {
	var log []string
	reg := plugin.NewRegistry(nil)
	reg.RegisterValidator(minLength{n: 10_000, log: &log})
	reg.RegisterValidator(never{log: &log})

	_, err := New(reg, nil).Run(context.Background(), &document.Result{Content: sample}, config.New().WithDefaults())
	if !errors.Is(err, docerr.ErrValidation) {
		t.Fatalf("got %v", err)
	}
	var de *docerr.Error
	if errors.As(err, &de) && de.Stage != "validator:min_length" {
		t.Errorf("stage %q", de.Stage)
	}
	if len(log) != 1 {
		t.Errorf("second validator ran: %v", log)
	}
}

func TestRun_PostProcessorFailures(t *testing.T) {
	tests := []struct {
		name string
		pp   *recorder
		kind docerr.Kind
	}{
		{"error", &recorder{name: "bad", fail: true}, docerr.KindPlugin},
		{"panic", &recorder{name: "crash", panic: true}, docerr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			tt.pp.log = &log
			reg := plugin.NewRegistry(nil)
			reg.RegisterPostProcessor(tt.pp)
			_, err := New(reg, nil).Run(context.Background(), &document.Result{Content: sample}, config.New().WithDefaults())
			if docerr.KindOf(err) != tt.kind {
				t.Fatalf("got %v", err)
			}
			var de *docerr.Error
			errors.As(err, &de)
			if de.Stage != "postprocessor:"+tt.pp.name {
				t.Errorf("stage %q", de.Stage)
			}
		})
	}
}

func TestRun_TokenReductionKeepsKeywords(t *testing.T) {
	cfg := fullConfig()
	cfg.TokenReduction = &config.TokenReductionConfig{Mode: "maximum"}
	r, err := New(nil, nil).Run(context.Background(), &document.Result{Content: sample}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Content) >= len(sample) {
		t.Errorf("content not reduced")
	}
	lower := strings.ToLower(r.Content)
	for _, k := range r.Keywords {
		if w := strings.ToLower(strings.Fields(k.Text)[0]); !strings.Contains(lower, w) {
			t.Errorf("keyword %q lost: %q", k.Text, r.Content)
		}
	}
	if _, ok := r.Metadata.Additional["token_reduction"]; !ok {
		t.Error("reduction metadata missing")
	}
}

func TestRun_EmbeddingWithoutEndpoint(t *testing.T) {
	cfg := fullConfig()
	cfg.Chunking.Embedding = &config.EmbeddingConfig{Model: config.EmbeddingModel{Type: "preset", Name: "fast"}}
	r, err := New(nil, nil).Run(context.Background(), &document.Result{Content: sample}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range r.Chunks {
		if len(c.Embedding) != 384 {
			t.Fatalf("embedding size %d", len(c.Embedding))
		}
	}

	cfg.Chunking.Embedding = &config.EmbeddingConfig{Model: config.EmbeddingModel{Type: "custom", Model: "x"}}
	_, err = New(nil, nil).Run(context.Background(), &document.Result{Content: sample}, cfg)
	var de *docerr.Error
	if !errors.As(err, &de) || de.Kind != docerr.KindMissingDependency || de.Stage != StageEmbedding {
		t.Errorf("custom model without endpoint: %v", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, nil).Run(ctx, &document.Result{Content: sample}, fullConfig())
	if !errors.Is(err, docerr.ErrExecution) || !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}

func TestClean(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a  b\t\tc", "a b c"},
		{"line\r\nnext", "line\nnext"},
		{"p1\n\n\n\n\np2", "p1\n\np2"},
		{"  indented   text  \n", "indented text"},
		{"x\n    code  block\ny", "x\n    code block\ny"},
		{"été", "été"},
		{"ok\x01done", "okdone"},
		{"   \n  \n", ""},
	}
	for _, tt := range tests {
		got := Clean(tt.in)
		if got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if Clean(got) != got {
			t.Errorf("Clean not idempotent on %q", got)
		}
	}
}

func TestMeasure(t *testing.T) {
	// WHAT: garbage-heavy text scores lower than prose.
	// WHY: the score is what flags scanned or broken text layers.
	good := Measure("This is a normal sentence with standard words inside. See figure 2.")
	bad := Measure("a b c  d e f \x01\x02")
	if good.Score <= bad.Score {
		t.Errorf("good %+v <= bad %+v", good, bad)
	}
	if good.VisualRefCount == 0 {
		t.Errorf("visual refs: %+v", good)
	}
	if Measure("   ").Score != 0 {
		t.Error("blank text must score 0")
	}
	if !NeedsOCR(10, 0.99, true) || NeedsOCR(500, 0.99, true) || !NeedsOCR(500, 0.5, false) {
		t.Error("NeedsOCR thresholds")
	}
}

func TestPrintableAndWordlikeRatio(t *testing.T) {
	if r := PrintableRatio("This is a normal sentence."); r < 0.95 {
		t.Errorf("printable %f", r)
	}
	if r := PrintableRatio("abcdef\x01\x02\x03\x04\x05"); r >= 0.85 {
		t.Errorf("garbage printable %f", r)
	}
	if r := WordlikeRatio("a b c d e f g h i j k l"); r >= 0.4 {
		t.Errorf("single chars %f", r)
	}
}
