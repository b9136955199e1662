package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/docextract/docerr"
)

func TestWithDefaults_DoesNotMutate(t *testing.T) {
	cfg := &ExtractionConfig{Chunking: &ChunkingConfig{}}
	d := cfg.WithDefaults()

	if cfg.Chunking.MaxChars != 0 {
		t.Fatal("WithDefaults mutated the input")
	}
	if d.Chunking.MaxChars != DefaultChunkMaxChars || d.Chunking.MaxOverlap != DefaultChunkMaxOverlap {
		t.Errorf("chunking defaults: %+v", d.Chunking)
	}
	if !d.CacheEnabled() || !d.QualityProcessing() {
		t.Error("cache and quality default to on")
	}
	if d.OutputFormat != OutputPlain || d.ResultFormat != ResultUnified {
		t.Errorf("formats: %q %q", d.OutputFormat, d.ResultFormat)
	}
	if d.OCR != nil || d.Keywords != nil {
		t.Error("absent sub-configs must stay absent")
	}
}

func TestWithDefaults_Idempotent(t *testing.T) {
	cfg := &ExtractionConfig{
		OCR:       &OCRConfig{},
		Chunking:  &ChunkingConfig{MaxChars: 500, MaxOverlap: -1},
		Keywords:  &KeywordConfig{Algorithm: "rake"},
		Hierarchy: &HierarchyConfig{},
	}
	once := cfg.WithDefaults()
	twice := once.WithDefaults()
	if !bytes.Equal(once.Canonical(), twice.Canonical()) {
		t.Errorf("defaults not idempotent:\n%s\n%s", once.Canonical(), twice.Canonical())
	}
	if twice.Chunking.MaxOverlap != -1 {
		t.Errorf("negative overlap must survive, got %d", twice.Chunking.MaxOverlap)
	}
}

func TestChunkingAliases(t *testing.T) {
	d := (&ExtractionConfig{Chunking: &ChunkingConfig{ChunkSize: 300, ChunkOverlap: 30}}).WithDefaults()
	if d.Chunking.MaxChars != 300 || d.Chunking.MaxOverlap != 30 {
		t.Errorf("aliases not applied: %+v", d.Chunking)
	}
	if d.Chunking.ChunkSize != 0 || d.Chunking.ChunkOverlap != 0 {
		t.Error("aliases must be cleared after normalization")
	}
}

func TestCanonical_EquivalentConfigsCollide(t *testing.T) {
	// WHAT: explicit defaults and implicit defaults fingerprint the same.
	// WHY: the cache must not miss because a caller spelled a default out.
	a := &ExtractionConfig{Chunking: &ChunkingConfig{}}
	b := &ExtractionConfig{
		UseCache:     Bool(false),
		OutputFormat: OutputPlain,
		Chunking:     &ChunkingConfig{ChunkSize: DefaultChunkMaxChars, MaxOverlap: DefaultChunkMaxOverlap},

		MaxConcurrentExtractions: 8,
	}
	if !bytes.Equal(a.Canonical(), b.Canonical()) {
		t.Errorf("canonical differs:\n%s\n%s", a.Canonical(), b.Canonical())
	}

	c := &ExtractionConfig{Chunking: &ChunkingConfig{MaxChars: 10}}
	if bytes.Equal(a.Canonical(), c.Canonical()) {
		t.Error("different chunk sizes must not collide")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ExtractionConfig
		ok   bool
	}{
		{"empty", &ExtractionConfig{}, true},
		{"overlap too large", &ExtractionConfig{Chunking: &ChunkingConfig{MaxChars: 100, MaxOverlap: 100}}, false},
		{"bad output", &ExtractionConfig{OutputFormat: "pdf"}, false},
		{"bad token mode", &ExtractionConfig{TokenReduction: &TokenReductionConfig{Mode: "extreme"}}, false},
		{"bad lang", &ExtractionConfig{OCR: &OCRConfig{Language: "English"}}, false},
		{"multi lang", &ExtractionConfig{OCR: &OCRConfig{Language: "eng+deu"}}, true},
		{"bad keyword algo", &ExtractionConfig{Keywords: &KeywordConfig{Algorithm: "tfidf"}}, false},
		{"confidence range", &ExtractionConfig{LanguageDetection: &LanguageDetectionConfig{MinConfidence: 1.5}}, false},
		{"custom model needs id", &ExtractionConfig{Chunking: &ChunkingConfig{Embedding: &EmbeddingConfig{Model: EmbeddingModel{Type: "custom"}}}}, false},
		{"dpi range", &ExtractionConfig{Images: &ImageExtractionConfig{TargetDPI: 50}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, docerr.ErrValidation) {
					t.Fatalf("want validation error, got %v", err)
				}
			}
		})
	}
}

func TestGetField(t *testing.T) {
	cfg := &ExtractionConfig{Chunking: &ChunkingConfig{MaxChars: 800}, Keywords: &KeywordConfig{}}

	v, err := cfg.GetField("chunking.max_chars")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(800) {
		t.Errorf("max_chars: got %v", v)
	}
	v, err = cfg.GetField("keywords.ngram_range.1")
	if err != nil || v != float64(3) {
		t.Errorf("ngram_range.1: got %v, %v", v, err)
	}
	if _, err := cfg.GetField("ocr.backend"); !errors.Is(err, docerr.ErrNotFound) {
		t.Errorf("missing field: got %v", err)
	}
}

func TestMerge_OtherWins(t *testing.T) {
	base := &ExtractionConfig{
		OutputFormat: OutputMarkdown,
		Chunking:     &ChunkingConfig{MaxChars: 500},
		OCR:          &OCRConfig{Language: "fra"},
	}
	over := &ExtractionConfig{UseCache: Bool(false), Chunking: &ChunkingConfig{MaxChars: 900}}

	m := base.Merge(over)
	if m.CacheEnabled() {
		t.Error("use_cache=false from other must win")
	}
	if m.Chunking.MaxChars != 900 {
		t.Errorf("chunking: got %d", m.Chunking.MaxChars)
	}
	if m.OutputFormat != OutputMarkdown || m.OCR == nil || m.OCR.Language != "fra" {
		t.Error("fields absent from other must be kept")
	}
	if base.Chunking.MaxChars != 500 {
		t.Error("merge mutated base")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cfg.yaml")
	os.WriteFile(yamlPath, []byte("output_format: markdown\nchunking:\n  max_chars: 640\ntimeout: 30s\n"), 0o644)
	cfg, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OutputFormat != OutputMarkdown || cfg.Chunking.MaxChars != 640 {
		t.Errorf("yaml: %+v", cfg)
	}
	if cfg.Timeout.Seconds() != 30 {
		t.Errorf("timeout: got %v", cfg.Timeout)
	}

	jsonPath := filepath.Join(dir, "cfg.json")
	os.WriteFile(jsonPath, []byte(`{"force_ocr":true,"ocr":{"backend":"tesseract"}}`), 0o644)
	cfg, err = LoadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.ForceOCR || cfg.OCR.Backend != "tesseract" {
		t.Errorf("json: %+v", cfg)
	}

	bad := filepath.Join(dir, "cfg.toml")
	os.WriteFile(bad, []byte("x = 1"), 0o644)
	if _, err := LoadFile(bad); !errors.Is(err, docerr.ErrValidation) {
		t.Errorf("unsupported extension: got %v", err)
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	os.WriteFile(unknown, []byte("no_such_field: 1\n"), 0o644)
	if _, err := LoadFile(unknown); err == nil {
		t.Error("unknown fields must be rejected")
	}
}

func TestLoadFile_CachedCopyIsIndependent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(p, []byte("chunking:\n  max_chars: 100\n"), 0o644)

	a, _ := LoadFile(p)
	a.Chunking.MaxChars = 1
	b, _ := LoadFile(p)
	if b.Chunking.MaxChars != 100 {
		t.Errorf("cache leaked a mutation: %d", b.Chunking.MaxChars)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	os.MkdirAll(nested, 0o755)
	os.WriteFile(filepath.Join(root, "docextract.yaml"), []byte("output_format: html\n"), 0o644)

	cfg, path, err := Discover(nested)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(root, "docextract.yaml") {
		t.Errorf("path: %s", path)
	}
	if cfg.OutputFormat != OutputHTML {
		t.Errorf("output: %q", cfg.OutputFormat)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvOCRLanguage, "deu")
	t.Setenv(EnvChunkingMaxChars, "750")
	t.Setenv(EnvCacheEnabled, "FALSE")
	t.Setenv(EnvTokenReductionMode, "moderate")
	t.Setenv(EnvOutputFormat, "markdown")

	cfg := &ExtractionConfig{}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.OCR == nil || cfg.OCR.Language != "deu" || cfg.OCR.Backend != DefaultOCRBackend {
		t.Errorf("ocr: %+v", cfg.OCR)
	}
	if cfg.Chunking.MaxChars != 750 {
		t.Errorf("max chars: %d", cfg.Chunking.MaxChars)
	}
	if cfg.CacheEnabled() {
		t.Error("cache should be disabled")
	}
	if cfg.TokenReduction.Mode != "moderate" || cfg.OutputFormat != OutputMarkdown {
		t.Errorf("token/output: %+v %q", cfg.TokenReduction, cfg.OutputFormat)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct{ key, val string }{
		{EnvChunkingMaxChars, "zero"},
		{EnvChunkingMaxChars, "0"},
		{EnvCacheEnabled, "yes"},
		{EnvTokenReductionMode, "extreme"},
		{EnvOCRLanguage, "EN GLISH"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.val, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if err := (&ExtractionConfig{}).ApplyEnv(); !errors.Is(err, docerr.ErrValidation) {
				t.Errorf("got %v", err)
			}
		})
	}
}

func TestPostProcessorAllows(t *testing.T) {
	var nilCfg *PostProcessorConfig
	if !nilCfg.Allows("x") {
		t.Error("nil config allows everything")
	}
	p := &PostProcessorConfig{EnabledProcessors: []string{"a", "b"}, DisabledProcessors: []string{"b"}}
	if !p.Allows("a") || p.Allows("b") || p.Allows("c") {
		t.Error("enabled/disabled filtering broken")
	}
	off := &PostProcessorConfig{Enabled: Bool(false)}
	if off.Allows("a") {
		t.Error("disabled config allows nothing")
	}
}
