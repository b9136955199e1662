// Package docpipe extracts structured content from documents.
//
// Supported formats: plain text, Markdown, HTML, PDF, DOCX, ODT, XLSX, PPTX,
// RFC 822 email and mbox, zip/tar/gzip archives, images (through OCR), XML,
// JSON, YAML, CSV and TSV. Extractors are plugins: the built-in ones are
// registered on the pipeline's registry and a caller may add or replace
// any of them.
//
// Every call goes through the same path:
//
//	MIME resolution → cache lookup → governor admission → extractor →
//	post-processing → cache store
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	defer pipe.Close()
//	res, err := pipe.ExtractFile(ctx, "/path/to/file.docx", "", nil)
//	fmt.Println(res.Content)
package docpipe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/hazyhaar/docextract/cache"
	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/fsguard"
	"github.com/hazyhaar/docextract/governor"
	"github.com/hazyhaar/docextract/kit"
	"github.com/hazyhaar/docextract/mimes"
	"github.com/hazyhaar/docextract/observability"
	"github.com/hazyhaar/docextract/ocr"
	"github.com/hazyhaar/docextract/plugin"
	"github.com/hazyhaar/docextract/postproc"
)

// Pipeline is the document extraction engine. Safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	reg       *plugin.Registry
	gov       *governor.Governor
	ownsGov   bool
	cache     *cache.Cache
	ownsCache bool
	ocr       *ocr.Service
	post      *postproc.Pipeline
	metrics   *observability.MetricsManager
	audit     *observability.AuditLogger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:     cfg,
		logger:  cfg.Logger,
		reg:     cfg.Registry,
		gov:     cfg.Governor,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		audit:   cfg.Audit,
	}
	if p.gov == nil {
		p.gov = governor.New(governor.Config{
			MaxConcurrent:   cfg.MaxConcurrent,
			BlockingWorkers: cfg.BlockingWorkers,
			Logger:          cfg.Logger,
		})
		p.ownsGov = true
	}
	if p.cache == nil {
		// Memory-only; New cannot fail without a store.
		c, err := cache.New(cache.Config{Logger: cfg.Logger})
		if err != nil {
			p.logger.Warn("docpipe: cache disabled", "error", err)
		}
		p.cache, p.ownsCache = c, true
	}
	p.ocr = ocr.NewService(p.reg, p.gov, cfg.Logger)
	p.post = postproc.New(p.reg, cfg.Logger)
	if !cfg.SkipBuiltins {
		if err := RegisterBuiltins(p.reg, p.ocr, p.gov); err != nil {
			p.logger.Warn("docpipe: register builtins", "error", err)
		}
	}
	return p
}

// Registry returns the plugin registry the pipeline dispatches on.
func (p *Pipeline) Registry() *plugin.Registry { return p.reg }

// Cache returns the result cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Governor returns the concurrency governor.
func (p *Pipeline) Governor() *governor.Governor { return p.gov }

// Close releases what New created. Shared dependencies passed in Config
// are left open.
func (p *Pipeline) Close() error {
	if p.ownsGov {
		p.gov.Close()
	}
	if p.ownsCache && p.cache != nil {
		return p.cache.Close()
	}
	return nil
}

// Detect returns the MIME type of a file name by extension.
func (p *Pipeline) Detect(path string) (string, error) {
	return mimes.FromPath(path)
}

// DetectBytes sniffs the MIME type of content.
func (p *Pipeline) DetectBytes(data []byte) string {
	return mimes.Detect(data)
}

// SupportedFormats returns every MIME type some registered extractor
// handles, sorted.
func (p *Pipeline) SupportedFormats() []string {
	out := p.reg.SupportedMimeTypes()
	sort.Strings(out)
	return out
}

// Extract extracts data of the given MIME type. An empty mime is sniffed
// from the content. cfg may be nil; it is never modified.
func (p *Pipeline) Extract(ctx context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	if kit.GetRequestID(ctx) == "" {
		ctx = kit.WithRequestID(ctx, kit.NewRequestID())
	}
	res, err := p.extract(ctx, data, mime, cfg)
	if err != nil {
		docerr.Record(err)
		return nil, err
	}
	return res, nil
}

// ExtractSync is Extract for callers without a context.
func (p *Pipeline) ExtractSync(data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	return p.Extract(context.Background(), data, mime, cfg)
}

// ExtractFile reads path and extracts it. An empty mime is taken from the
// file extension.
func (p *Pipeline) ExtractFile(ctx context.Context, path, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	data, mime, err := p.readFile(path, mime)
	if err != nil {
		docerr.Record(err)
		return nil, err
	}
	return p.Extract(kit.WithSource(ctx, path), data, mime, cfg)
}

// ExtractFileSync is ExtractFile for callers without a context.
func (p *Pipeline) ExtractFileSync(path, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	return p.ExtractFile(context.Background(), path, mime, cfg)
}

func (p *Pipeline) readFile(path, mime string) ([]byte, string, error) {
	resolved, err := fsguard.Resolve(p.cfg.Root, path)
	if err != nil {
		return nil, "", docerr.Wrap(docerr.KindValidation, err, "path %s", path)
	}
	path = resolved
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", docerr.Wrap(docerr.KindNotFound, err, "stat %s", path)
		}
		return nil, "", docerr.Wrap(docerr.KindValidation, err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, "", docerr.Validation("%s is a directory", path)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, "", docerr.Validation("file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}
	if mime == "" {
		if mime, err = mimes.FromPath(path); err != nil {
			return nil, "", err
		}
	}
	data, err := fsguard.ReadFile(path, p.cfg.MaxFileSize)
	if err != nil {
		return nil, "", docerr.Wrap(docerr.KindValidation, err, "read %s", path)
	}
	return data, mime, nil
}

// extract resolves the extractor, serves the result from the cache when it
// can, and admits a computation through the governor otherwise.
func (p *Pipeline) extract(ctx context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (res *document.Result, err error) {
	start := time.Now()
	entry := &observability.AuditEntry{
		RequestID:  kit.GetRequestID(ctx),
		Operation:  "extract",
		Transport:  kit.GetTransport(ctx),
		Source:     kit.GetSource(ctx),
		InputBytes: int64(len(data)),
	}
	defer func() { p.observe(entry, start, res, err) }()

	if len(data) == 0 {
		return nil, docerr.Validation("empty input")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mime = mimes.Resolve(data, mime)
	entry.MimeType = mime

	ext, err := p.reg.ResolveExtractor(mime)
	if err != nil {
		return nil, err
	}
	entry.Extractor = ext.Name()
	if cfg.ForceOCR && cfg.OCR == nil {
		if oc, ok := ext.(plugin.OCRCapable); ok && oc.SupportsOCR() {
			cfg.OCR = &config.OCRConfig{}
			cfg = cfg.WithDefaults()
		}
	}

	if !cfg.CacheEnabled() || p.cache == nil {
		return p.admit(ctx, ext, data, mime, cfg)
	}

	key := cache.Fingerprint(data, mime, cfg)
	res, computed, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*document.Result, error) {
		return p.admit(ctx, ext, data, mime, cfg)
	})
	entry.CacheHit = err == nil && !computed
	if entry.CacheHit {
		p.metrics.Count(observability.MetricCacheHit, map[string]string{"mime": mime})
	} else {
		p.metrics.Count(observability.MetricCacheMiss, map[string]string{"mime": mime})
	}
	return res, err
}

// admit runs one computation under a governor slot. The per-call timeout
// starts once the slot is taken.
func (p *Pipeline) admit(ctx context.Context, ext plugin.DocumentExtractor, data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	return governor.Submit(ctx, p.gov, func(ctx context.Context) (*document.Result, error) {
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		return p.run(ctx, ext, data, mime, cfg)
	}).Wait(ctx)
}

// run calls the extractor and, unless quality processing is off, the
// post-processing pipeline.
func (p *Pipeline) run(ctx context.Context, ext plugin.DocumentExtractor, data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	attrs := map[string]string{
		"extractor":  ext.Name(),
		"mime":       mime,
		"request_id": kit.GetRequestID(ctx),
	}
	res, err := docerr.Guard("extract:"+ext.Name(), attrs, func() (*document.Result, error) {
		return ext.Extract(ctx, data, mime, cfg)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, docerr.FromContext(ctx.Err())
		}
		e := docerr.Ensure(err, docerr.KindExecution)
		if e.Stage == "" {
			e.Stage = "extract:" + ext.Name()
		}
		return nil, e
	}
	if res == nil {
		return nil, docerr.Internal("extractor %s returned no result", ext.Name())
	}
	if res.MimeType == "" {
		res.MimeType = mime
	}
	if !cfg.QualityProcessing() {
		return res, nil
	}

	res, err = p.post.Run(ctx, res, cfg)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("docpipe: extracted",
		"extractor", ext.Name(), "mime", mime, "bytes", len(data),
		"chars", len(res.Content), "request_id", attrs["request_id"])
	return res, nil
}

// observe records metrics and the audit entry of one extraction.
func (p *Pipeline) observe(e *observability.AuditEntry, start time.Time, res *document.Result, err error) {
	elapsed := time.Since(start)
	e.DurationMs = elapsed.Milliseconds()
	labels := map[string]string{"mime": e.MimeType, "extractor": e.Extractor}
	p.metrics.Duration(observability.MetricExtractionDurationMs, elapsed, labels)
	p.metrics.Count(observability.MetricExtractionCount, labels)
	p.metrics.Record(&observability.Metric{
		Name:   observability.MetricInputBytes,
		Value:  float64(e.InputBytes),
		Labels: labels,
		Unit:   "bytes",
	})
	if res != nil {
		e.OutputChars = len([]rune(res.Content))
	}
	if err != nil {
		de := docerr.Ensure(err, docerr.KindInternal)
		e.ErrorCode = de.Code()
		e.ErrorKind = de.Kind.String()
		e.ErrorStage = de.Stage
		e.ErrorMessage = de.Error()
		if errors.Is(err, context.Canceled) {
			e.Status = "cancelled"
		}
		labels["kind"] = e.ErrorKind
		p.metrics.Count(observability.MetricExtractionErrors, labels)
		p.logger.Debug("docpipe: extraction failed",
			"mime", e.MimeType, "kind", e.ErrorKind, "code", strconv.Itoa(e.ErrorCode), "error", err)
	}
	p.audit.LogAsync(e)
}
