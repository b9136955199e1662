package docpipe

import (
	"log/slog"

	"github.com/hazyhaar/docextract/cache"
	"github.com/hazyhaar/docextract/governor"
	"github.com/hazyhaar/docextract/observability"
	"github.com/hazyhaar/docextract/plugin"
)

// Config configures the document pipeline.
type Config struct {
	// MaxFileSize caps ExtractFile inputs (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Root confines ExtractFile and batch paths to one directory tree.
	// Empty allows any path the process can read.
	Root string `json:"root" yaml:"root"`

	// MaxConcurrent caps concurrent extractions. Default runtime.NumCPU().
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// BlockingWorkers sizes the pool for OCR and PDF parsing. Default
	// runtime.NumCPU().
	BlockingWorkers int `json:"blocking_workers" yaml:"blocking_workers"`

	// Registry holds the plugins. Default plugin.Default().
	Registry *plugin.Registry `json:"-" yaml:"-"`

	// Governor is shared when several pipelines should share one bound.
	// Default: a private governor built from MaxConcurrent and
	// BlockingWorkers, closed by Pipeline.Close.
	Governor *governor.Governor `json:"-" yaml:"-"`

	// Cache stores results by fingerprint. Nil means a private in-memory
	// cache.
	Cache *cache.Cache `json:"-" yaml:"-"`

	// Metrics and Audit are optional sinks. Nil records nothing.
	Metrics *observability.MetricsManager `json:"-" yaml:"-"`
	Audit   *observability.AuditLogger    `json:"-" yaml:"-"`

	// SkipBuiltins leaves the registry as given. By default the built-in
	// extractors are registered on it, skipping names already taken.
	SkipBuiltins bool `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = plugin.Default()
	}
}
