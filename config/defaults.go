package config

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hazyhaar/docextract/docerr"
)

// Default values. Sub-configs get them only when present.
const (
	DefaultOCRBackend        = "tesseract"
	DefaultOCRLanguage       = "eng"
	DefaultTargetDPI         = 300
	DefaultMaxImageDimension = 4096
	DefaultMinDPI            = 72
	DefaultMaxDPI            = 600
	DefaultChunkMaxChars     = 1000
	DefaultChunkMaxOverlap   = 200
	DefaultEmbeddingBatch    = 32
	DefaultMinConfidence     = 0.8
	DefaultMaxKeywords       = 10
	DefaultYakeWindow        = 2
	DefaultMaxWordsPerPhrase = 3
	DefaultHierarchyK        = 6
	DefaultOCRCoverage       = 0.5
	DefaultPageMarker        = "\n\n<!-- PAGE {page_num} -->\n\n"
)

var (
	tokenReductionModes = []string{"off", "light", "moderate", "aggressive", "maximum"}
	binarizationMethods = []string{"otsu", "fixed", "none"}
	embeddingPresets    = []string{"fast", "balanced", "quality", "multilingual"}
	languageCodeRE      = regexp.MustCompile(`^[a-z]{2,3}(_[a-z]{2,4})?(\+[a-z]{2,3}(_[a-z]{2,4})?)*$`)
	backendNameRE       = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)
)

// New returns an empty config. All stages that need a sub-config are off.
func New() *ExtractionConfig { return &ExtractionConfig{} }

// Clone returns a deep copy of c. A nil config clones to an empty one.
func (c *ExtractionConfig) Clone() *ExtractionConfig {
	out := &ExtractionConfig{}
	if c == nil {
		return out
	}
	raw, err := json.Marshal(c)
	if err != nil {
		// Every field is a plain value; Marshal cannot fail.
		panic("config: clone: " + err.Error())
	}
	_ = json.Unmarshal(raw, out)
	return out
}

// WithDefaults returns a copy of c with defaults filled in. c is not
// modified.
func (c *ExtractionConfig) WithDefaults() *ExtractionConfig {
	out := c.Clone()
	out.defaults()
	return out
}

func (c *ExtractionConfig) defaults() {
	if c.UseCache == nil {
		c.UseCache = Bool(true)
	}
	if c.EnableQualityProcessing == nil {
		c.EnableQualityProcessing = Bool(true)
	}
	if c.OutputFormat == "" {
		c.OutputFormat = OutputPlain
	}
	if c.ResultFormat == "" {
		c.ResultFormat = ResultUnified
	}
	if c.OCR != nil {
		c.OCR.defaults()
	}
	if c.Chunking != nil {
		c.Chunking.defaults()
	}
	if c.Images != nil {
		c.Images.defaults()
	}
	if c.PDF != nil && c.PDF.ExtractMetadata == nil {
		c.PDF.ExtractMetadata = Bool(true)
	}
	if c.TokenReduction != nil {
		if c.TokenReduction.Mode == "" {
			c.TokenReduction.Mode = "off"
		}
		if c.TokenReduction.PreserveImportantWords == nil {
			c.TokenReduction.PreserveImportantWords = Bool(true)
		}
	}
	if c.LanguageDetection != nil {
		if c.LanguageDetection.Enabled == nil {
			c.LanguageDetection.Enabled = Bool(true)
		}
		if c.LanguageDetection.MinConfidence == 0 {
			c.LanguageDetection.MinConfidence = DefaultMinConfidence
		}
	}
	if c.Keywords != nil {
		c.Keywords.defaults()
	}
	if c.PostProcessor != nil && c.PostProcessor.Enabled == nil {
		c.PostProcessor.Enabled = Bool(true)
	}
	if c.Pages != nil && c.Pages.MarkerFormat == "" {
		c.Pages.MarkerFormat = DefaultPageMarker
	}
	if c.Hierarchy != nil {
		if c.Hierarchy.Enabled == nil {
			c.Hierarchy.Enabled = Bool(true)
		}
		if c.Hierarchy.KClusters <= 0 {
			c.Hierarchy.KClusters = DefaultHierarchyK
		}
		if c.Hierarchy.OCRCoverageThreshold == 0 {
			c.Hierarchy.OCRCoverageThreshold = DefaultOCRCoverage
		}
	}
}

func (o *OCRConfig) defaults() {
	if o.Backend == "" {
		o.Backend = DefaultOCRBackend
	}
	if o.Language == "" {
		o.Language = DefaultOCRLanguage
	}
	if o.Preprocessing == nil {
		o.Preprocessing = &ImagePreprocessingConfig{}
	}
	if o.Preprocessing.TargetDPI <= 0 {
		o.Preprocessing.TargetDPI = DefaultTargetDPI
	}
	if o.Preprocessing.BinarizationMethod == "" {
		o.Preprocessing.BinarizationMethod = "otsu"
	}
}

func (ch *ChunkingConfig) defaults() {
	if ch.MaxChars <= 0 && ch.ChunkSize > 0 {
		ch.MaxChars = ch.ChunkSize
	}
	if ch.MaxOverlap <= 0 && ch.ChunkOverlap > 0 {
		ch.MaxOverlap = ch.ChunkOverlap
	}
	ch.ChunkSize, ch.ChunkOverlap = 0, 0
	if ch.MaxChars <= 0 {
		ch.MaxChars = DefaultChunkMaxChars
	}
	// Zero means "default"; a negative overlap means "none" and is kept as is
	// so defaults stay idempotent.
	if ch.MaxOverlap == 0 {
		ch.MaxOverlap = DefaultChunkMaxOverlap
		if ch.MaxOverlap >= ch.MaxChars {
			ch.MaxOverlap = ch.MaxChars / 5
		}
	}
	if e := ch.Embedding; e != nil {
		if e.Model.Type == "" {
			e.Model.Type = "preset"
		}
		if e.Model.Type == "preset" && e.Model.Name == "" {
			e.Model.Name = "balanced"
		}
		if e.Normalize == nil {
			e.Normalize = Bool(true)
		}
		if e.BatchSize <= 0 {
			e.BatchSize = DefaultEmbeddingBatch
		}
	}
}

func (i *ImageExtractionConfig) defaults() {
	if i.ExtractImages == nil {
		i.ExtractImages = Bool(true)
	}
	if i.TargetDPI <= 0 {
		i.TargetDPI = DefaultTargetDPI
	}
	if i.MaxImageDimension <= 0 {
		i.MaxImageDimension = DefaultMaxImageDimension
	}
	if i.AutoAdjustDPI == nil {
		i.AutoAdjustDPI = Bool(true)
	}
	if i.MinDPI <= 0 {
		i.MinDPI = DefaultMinDPI
	}
	if i.MaxDPI <= 0 {
		i.MaxDPI = DefaultMaxDPI
	}
}

func (k *KeywordConfig) defaults() {
	if k.Algorithm == "" {
		k.Algorithm = "yake"
	}
	if k.MaxKeywords <= 0 {
		k.MaxKeywords = DefaultMaxKeywords
	}
	if k.NgramRange == [2]int{} {
		k.NgramRange = [2]int{1, 3}
	}
	if k.Language == "" {
		k.Language = "en"
	}
	if k.WindowSize <= 0 {
		k.WindowSize = DefaultYakeWindow
	}
	if k.MinWordLength <= 0 {
		k.MinWordLength = 1
	}
	if k.MaxWordsPerPhrase <= 0 {
		k.MaxWordsPerPhrase = DefaultMaxWordsPerPhrase
	}
}

// Validate checks the config after defaults. It returns a validation error
// naming the first bad field.
func (c *ExtractionConfig) Validate() error {
	d := c.WithDefaults()

	switch d.OutputFormat {
	case OutputPlain, OutputMarkdown, OutputDjot, OutputHTML:
	default:
		return docerr.Validation("output_format %q: want plain, markdown, djot or html", d.OutputFormat)
	}
	switch d.ResultFormat {
	case ResultUnified, ResultElementBased:
	default:
		return docerr.Validation("result_format %q: want unified or element_based", d.ResultFormat)
	}
	if d.MaxConcurrentExtractions < 0 {
		return docerr.Validation("max_concurrent_extractions must be >= 0")
	}
	if d.Timeout < 0 {
		return docerr.Validation("timeout must be >= 0")
	}
	if o := d.OCR; o != nil {
		if err := ValidateOCRBackend(o.Backend); err != nil {
			return err
		}
		if err := ValidateLanguageCode(o.Language); err != nil {
			return err
		}
		if !contains(binarizationMethods, o.Preprocessing.BinarizationMethod) {
			return docerr.Validation("ocr.preprocessing.binarization_method %q: want one of %s",
				o.Preprocessing.BinarizationMethod, strings.Join(binarizationMethods, ", "))
		}
	}
	if ch := d.Chunking; ch != nil {
		if err := ValidateChunking(ch.MaxChars, ch.MaxOverlap); err != nil {
			return err
		}
		if e := ch.Embedding; e != nil {
			switch e.Model.Type {
			case "preset":
				if !contains(embeddingPresets, e.Model.Name) {
					return docerr.Validation("chunking.embedding.model.name %q: unknown preset", e.Model.Name)
				}
			case "custom":
				if e.Model.Model == "" {
					return docerr.Validation("chunking.embedding.model.model is required for custom models")
				}
			default:
				return docerr.Validation("chunking.embedding.model.type %q: want preset or custom", e.Model.Type)
			}
		}
	}
	if i := d.Images; i != nil {
		if i.MinDPI > i.MaxDPI {
			return docerr.Validation("images.min_dpi %d exceeds max_dpi %d", i.MinDPI, i.MaxDPI)
		}
		if i.TargetDPI < i.MinDPI || i.TargetDPI > i.MaxDPI {
			return docerr.Validation("images.target_dpi %d outside [%d, %d]", i.TargetDPI, i.MinDPI, i.MaxDPI)
		}
	}
	if t := d.TokenReduction; t != nil {
		if err := ValidateTokenReductionMode(t.Mode); err != nil {
			return err
		}
	}
	if l := d.LanguageDetection; l != nil {
		if l.MinConfidence < 0 || l.MinConfidence > 1 {
			return docerr.Validation("language_detection.min_confidence %v outside [0, 1]", l.MinConfidence)
		}
	}
	if k := d.Keywords; k != nil {
		if k.Algorithm != "yake" && k.Algorithm != "rake" {
			return docerr.Validation("keywords.algorithm %q: want yake or rake", k.Algorithm)
		}
		if k.NgramRange[0] < 1 || k.NgramRange[1] < k.NgramRange[0] {
			return docerr.Validation("keywords.ngram_range %v invalid", k.NgramRange)
		}
		if k.MinScore < 0 || k.MinScore > 1 {
			return docerr.Validation("keywords.min_score %v outside [0, 1]", k.MinScore)
		}
	}
	if h := d.Hierarchy; h != nil {
		if h.KClusters > 12 {
			return docerr.Validation("hierarchy.k_clusters %d exceeds 12", h.KClusters)
		}
		if h.OCRCoverageThreshold < 0 || h.OCRCoverageThreshold > 1 {
			return docerr.Validation("hierarchy.ocr_coverage_threshold %v outside [0, 1]", h.OCRCoverageThreshold)
		}
	}
	return nil
}

// ValidateChunking checks a max chars / overlap pair. A negative overlap
// means no overlap.
func ValidateChunking(maxChars, overlap int) error {
	if maxChars <= 0 {
		return docerr.Validation("chunking.max_chars must be > 0, got %d", maxChars)
	}
	if overlap >= maxChars {
		return docerr.Validation("chunking.max_overlap %d must be smaller than max_chars %d", overlap, maxChars)
	}
	return nil
}

// ValidateLanguageCode accepts ISO 639 codes, optionally joined with '+'
// ("eng", "fr", "eng+deu", "chi_sim").
func ValidateLanguageCode(code string) error {
	if !languageCodeRE.MatchString(code) {
		return docerr.Validation("invalid language code %q", code)
	}
	return nil
}

// ValidateOCRBackend checks the backend name shape. Whether it is
// registered is checked at dispatch time.
func ValidateOCRBackend(name string) error {
	if !backendNameRE.MatchString(name) {
		return docerr.Validation("invalid ocr backend name %q", name)
	}
	return nil
}

// ValidateTokenReductionMode checks the token reduction mode.
func ValidateTokenReductionMode(mode string) error {
	if !contains(tokenReductionModes, mode) {
		return docerr.Validation("token_reduction.mode %q: want one of %s", mode, strings.Join(tokenReductionModes, ", "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
