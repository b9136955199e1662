// Package config defines ExtractionConfig, the per-call configuration of an
// extraction, and the helpers around it: defaults, validation, canonical
// form for cache fingerprints, dot-path field access, merge, file loading
// and environment overrides.
//
// A nil sub-config disables the matching stage. Defaults are applied to a
// copy (WithDefaults); nothing in this package mutates shared state except
// the file-load cache.
package config

import (
	"time"
)

// OutputFormat selects how Result.Content is rendered.
type OutputFormat string

const (
	OutputPlain    OutputFormat = "plain"
	OutputMarkdown OutputFormat = "markdown"
	OutputDjot     OutputFormat = "djot"
	OutputHTML     OutputFormat = "html"
)

// ResultFormat selects the result structure.
type ResultFormat string

const (
	ResultUnified      ResultFormat = "unified"
	ResultElementBased ResultFormat = "element_based"
)

// ExtractionConfig configures one extraction call.
type ExtractionConfig struct {
	UseCache                *bool `json:"use_cache,omitempty" yaml:"use_cache,omitempty"`
	EnableQualityProcessing *bool `json:"enable_quality_processing,omitempty" yaml:"enable_quality_processing,omitempty"`
	ForceOCR                bool  `json:"force_ocr,omitempty" yaml:"force_ocr,omitempty"`

	OCR               *OCRConfig               `json:"ocr,omitempty" yaml:"ocr,omitempty"`
	Chunking          *ChunkingConfig          `json:"chunking,omitempty" yaml:"chunking,omitempty"`
	Images            *ImageExtractionConfig   `json:"images,omitempty" yaml:"images,omitempty"`
	PDF               *PDFConfig               `json:"pdf_options,omitempty" yaml:"pdf_options,omitempty"`
	TokenReduction    *TokenReductionConfig    `json:"token_reduction,omitempty" yaml:"token_reduction,omitempty"`
	LanguageDetection *LanguageDetectionConfig `json:"language_detection,omitempty" yaml:"language_detection,omitempty"`
	Keywords          *KeywordConfig           `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	PostProcessor     *PostProcessorConfig     `json:"postprocessor,omitempty" yaml:"postprocessor,omitempty"`
	Pages             *PageConfig              `json:"pages,omitempty" yaml:"pages,omitempty"`
	Hierarchy         *HierarchyConfig         `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"`

	OutputFormat OutputFormat `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	ResultFormat ResultFormat `json:"result_format,omitempty" yaml:"result_format,omitempty"`

	// MaxConcurrentExtractions caps batch fan-out. 0 means the governor
	// default (NumCPU).
	MaxConcurrentExtractions int `json:"max_concurrent_extractions,omitempty" yaml:"max_concurrent_extractions,omitempty"`

	// Timeout bounds one extraction from the moment the governor admits it.
	// 0 means no timeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OCRConfig selects the OCR backend.
type OCRConfig struct {
	Backend        string                    `json:"backend,omitempty" yaml:"backend,omitempty"`
	Language       string                    `json:"language,omitempty" yaml:"language,omitempty"`
	Preprocessing  *ImagePreprocessingConfig `json:"preprocessing,omitempty" yaml:"preprocessing,omitempty"`
	TableDetection bool                      `json:"enable_table_detection,omitempty" yaml:"enable_table_detection,omitempty"`
	// Params are passed verbatim to the backend (e.g. tesseract "psm").
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// ImagePreprocessingConfig tunes image cleanup before OCR.
type ImagePreprocessingConfig struct {
	TargetDPI          int    `json:"target_dpi,omitempty" yaml:"target_dpi,omitempty"`
	Deskew             bool   `json:"deskew,omitempty" yaml:"deskew,omitempty"`
	Denoise            bool   `json:"denoise,omitempty" yaml:"denoise,omitempty"`
	ContrastEnhance    bool   `json:"contrast_enhance,omitempty" yaml:"contrast_enhance,omitempty"`
	BinarizationMethod string `json:"binarization_method,omitempty" yaml:"binarization_method,omitempty"` // otsu, fixed, none
	InvertColors       bool   `json:"invert_colors,omitempty" yaml:"invert_colors,omitempty"`
}

// ChunkingConfig configures the chunker. ChunkSize and ChunkOverlap are
// accepted aliases of MaxChars and MaxOverlap.
type ChunkingConfig struct {
	MaxChars int `json:"max_chars,omitempty" yaml:"max_chars,omitempty"`

	// MaxOverlap of 0, including an explicit "max_overlap: 0", means the
	// default (DefaultChunkMaxOverlap). Use -1 for no overlap; the
	// DOCEXTRACT_CHUNKING_MAX_OVERLAP variable maps 0 to -1 for that.
	MaxOverlap int `json:"max_overlap,omitempty" yaml:"max_overlap,omitempty"`

	ChunkSize    int              `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap int              `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`
	Embedding    *EmbeddingConfig `json:"embedding,omitempty" yaml:"embedding,omitempty"`
}

// EmbeddingConfig configures embedding generation for chunks.
type EmbeddingConfig struct {
	Model     EmbeddingModel `json:"model" yaml:"model"`
	Endpoint  string         `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Normalize *bool          `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	BatchSize int            `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// EmbeddingModel names the model. Type is "preset" (Name is a preset such
// as "balanced") or "custom" (Model is the remote model id).
type EmbeddingModel struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// ImageExtractionConfig controls embedded image extraction and DPI handling.
type ImageExtractionConfig struct {
	ExtractImages     *bool `json:"extract_images,omitempty" yaml:"extract_images,omitempty"`
	TargetDPI         int   `json:"target_dpi,omitempty" yaml:"target_dpi,omitempty"`
	MaxImageDimension int   `json:"max_image_dimension,omitempty" yaml:"max_image_dimension,omitempty"`
	AutoAdjustDPI     *bool `json:"auto_adjust_dpi,omitempty" yaml:"auto_adjust_dpi,omitempty"`
	MinDPI            int   `json:"min_dpi,omitempty" yaml:"min_dpi,omitempty"`
	MaxDPI            int   `json:"max_dpi,omitempty" yaml:"max_dpi,omitempty"`
}

// PDFConfig holds PDF options.
type PDFConfig struct {
	Passwords       []string `json:"passwords,omitempty" yaml:"passwords,omitempty"`
	ExtractImages   bool     `json:"extract_images,omitempty" yaml:"extract_images,omitempty"`
	ExtractMetadata *bool    `json:"extract_metadata,omitempty" yaml:"extract_metadata,omitempty"`
}

// TokenReductionConfig selects the reduction mode.
type TokenReductionConfig struct {
	Mode                   string `json:"mode,omitempty" yaml:"mode,omitempty"` // off, light, moderate, aggressive, maximum
	PreserveImportantWords *bool  `json:"preserve_important_words,omitempty" yaml:"preserve_important_words,omitempty"`
}

// LanguageDetectionConfig gates language detection.
type LanguageDetectionConfig struct {
	Enabled        *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MinConfidence  float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	DetectMultiple bool    `json:"detect_multiple,omitempty" yaml:"detect_multiple,omitempty"`
}

// PostProcessorConfig filters registered post-processors. An empty
// EnabledProcessors list means all, minus DisabledProcessors.
type PostProcessorConfig struct {
	Enabled            *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	EnabledProcessors  []string `json:"enabled_processors,omitempty" yaml:"enabled_processors,omitempty"`
	DisabledProcessors []string `json:"disabled_processors,omitempty" yaml:"disabled_processors,omitempty"`
}

// KeywordConfig configures keyword extraction.
type KeywordConfig struct {
	Algorithm         string  `json:"algorithm,omitempty" yaml:"algorithm,omitempty"` // yake, rake
	MaxKeywords       int     `json:"max_keywords,omitempty" yaml:"max_keywords,omitempty"`
	MinScore          float64 `json:"min_score,omitempty" yaml:"min_score,omitempty"`
	NgramRange        [2]int  `json:"ngram_range,omitempty" yaml:"ngram_range,omitempty"`
	Language          string  `json:"language,omitempty" yaml:"language,omitempty"`
	WindowSize        int     `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	MinWordLength     int     `json:"min_word_length,omitempty" yaml:"min_word_length,omitempty"`
	MaxWordsPerPhrase int     `json:"max_words_per_phrase,omitempty" yaml:"max_words_per_phrase,omitempty"`
}

// PageConfig enables page tracking.
type PageConfig struct {
	ExtractPages      bool   `json:"extract_pages,omitempty" yaml:"extract_pages,omitempty"`
	InsertPageMarkers bool   `json:"insert_page_markers,omitempty" yaml:"insert_page_markers,omitempty"`
	MarkerFormat      string `json:"marker_format,omitempty" yaml:"marker_format,omitempty"`
}

// HierarchyConfig tunes heading-level detection.
type HierarchyConfig struct {
	Enabled              *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	KClusters            int     `json:"k_clusters,omitempty" yaml:"k_clusters,omitempty"`
	OCRCoverageThreshold float64 `json:"ocr_coverage_threshold,omitempty" yaml:"ocr_coverage_threshold,omitempty"`
}

// Bool returns a pointer to v, for the optional boolean fields.
func Bool(v bool) *bool { return &v }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CacheEnabled reports whether the cache is used. Default true.
func (c *ExtractionConfig) CacheEnabled() bool { return c != nil && boolOr(c.UseCache, true) }

// QualityProcessing reports whether the post-processing pipeline runs.
// Default true.
func (c *ExtractionConfig) QualityProcessing() bool {
	return c == nil || boolOr(c.EnableQualityProcessing, true)
}

// Active reports whether language detection is on.
func (l *LanguageDetectionConfig) Active() bool { return l != nil && boolOr(l.Enabled, true) }

// Active reports whether registered post-processors run.
func (p *PostProcessorConfig) Active() bool { return p == nil || boolOr(p.Enabled, true) }

// Allows reports whether the post-processor called name may run.
func (p *PostProcessorConfig) Allows(name string) bool {
	if !p.Active() {
		return false
	}
	if p == nil {
		return true
	}
	for _, d := range p.DisabledProcessors {
		if d == name {
			return false
		}
	}
	if len(p.EnabledProcessors) == 0 {
		return true
	}
	for _, e := range p.EnabledProcessors {
		if e == name {
			return true
		}
	}
	return false
}

// Active reports whether hierarchy detection is on.
func (h *HierarchyConfig) Active() bool { return h != nil && boolOr(h.Enabled, true) }

// Active reports whether token reduction does anything.
func (t *TokenReductionConfig) Active() bool { return t != nil && t.Mode != "" && t.Mode != "off" }

// PreserveImportant reports whether important words survive reduction.
func (t *TokenReductionConfig) PreserveImportant() bool {
	return t != nil && boolOr(t.PreserveImportantWords, true)
}

// ShouldNormalize reports whether embeddings are L2-normalized.
func (e *EmbeddingConfig) ShouldNormalize() bool { return e != nil && boolOr(e.Normalize, true) }

// ExtractImagesEnabled reports whether embedded images are returned.
func (i *ImageExtractionConfig) ExtractImagesEnabled() bool {
	return i != nil && boolOr(i.ExtractImages, true)
}

// AutoAdjust reports whether DPI is adjusted to the image content.
func (i *ImageExtractionConfig) AutoAdjust() bool { return i != nil && boolOr(i.AutoAdjustDPI, true) }

// MetadataEnabled reports whether PDF metadata is read. Default true.
func (p *PDFConfig) MetadataEnabled() bool { return p == nil || boolOr(p.ExtractMetadata, true) }

// NeedsImageProcessing reports whether images must be decoded at all.
func (c *ExtractionConfig) NeedsImageProcessing() bool {
	if c == nil {
		return false
	}
	return c.OCR != nil || c.Images.ExtractImagesEnabled() || (c.PDF != nil && c.PDF.ExtractImages)
}
