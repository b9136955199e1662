// Command docextract extracts text, tables and metadata from documents.
//
// Usage:
//
//	docextract extract report.pdf                 # JSON result on stdout
//	docextract extract -f markdown --content notes.docx
//	docextract batch a.pdf b.docx c.eml
//	docextract detect unknown.bin
//	docextract serve --addr :8080                 # HTTP API
//	docextract mcp                                # MCP over stdio
//	docextract cache stats | clear
//	docextract metrics --metrics-db db/metrics.db
//
// Extraction settings come from --config, else the nearest docextract.yaml
// (or .yml/.json) found walking up from the working directory, then
// DOCEXTRACT_* environment variables.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/docextract/cache"
	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/dbopen"
	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/mimes"
	"github.com/hazyhaar/docextract/observability"
	"github.com/hazyhaar/docextract/ocr"
	"github.com/hazyhaar/docextract/plugin"
)

const version = "0.3.0"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	cacheDB    string
	metricsDB  string
	tesseract  string
	workers    int
	root       string
}

// app is what a command needs once flags are parsed.
type app struct {
	logger  *slog.Logger
	cfg     *config.ExtractionConfig
	pipe    *docpipe.Pipeline
	metrics *observability.MetricsManager
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("docextract: close", "error", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "docextract",
		Short:        "Extract text, tables and metadata from documents",
		Version:      version,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "extraction config file (yaml or json)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&opts.cacheDB, "cache-db", os.Getenv("DOCEXTRACT_CACHE_DB"), "SQLite file for the result cache (memory only when empty)")
	pf.StringVar(&opts.metricsDB, "metrics-db", os.Getenv("DOCEXTRACT_METRICS_DB"), "SQLite file for metrics and the audit trail (disabled when empty)")
	pf.StringVar(&opts.tesseract, "tesseract", "tesseract", "tesseract binary name or path")
	pf.IntVar(&opts.workers, "workers", 0, "max concurrent extractions (default: number of CPUs)")
	pf.StringVar(&opts.root, "root", "", "only read files under this directory")

	root.AddCommand(
		newExtractCmd(opts),
		newBatchCmd(opts),
		newDetectCmd(),
		newServeCmd(opts),
		newMCPCmd(opts),
		newCacheCmd(opts),
		newMetricsCmd(opts),
	)
	return root
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig resolves the extraction config: explicit file, discovered
// file, or defaults, then environment overrides.
func loadConfig(path string, logger *slog.Logger) (*config.ExtractionConfig, error) {
	var (
		cfg *config.ExtractionConfig
		err error
	)
	if path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	} else {
		var found string
		if cfg, found, err = config.Discover(""); err != nil {
			return nil, err
		}
		if found != "" {
			logger.Debug("docextract: config discovered", "path", found)
		}
	}
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// setup builds the pipeline with its cache, OCR backend and optional
// metrics sink. Logs go to stderr so stdout stays clean for results.
func setup(opts *options) (*app, error) {
	logger := newLogger(opts.logLevel, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts.configPath, logger)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, cfg: cfg}

	c, err := cache.New(cache.Config{Path: opts.cacheDB, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.closers = append(a.closers, c.Close)

	var audit *observability.AuditLogger
	if opts.metricsDB != "" {
		db, err := openMetricsDB(opts.metricsDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.metrics = observability.NewMetricsManager(db, observability.MetricsConfig{Logger: logger})
		audit = observability.NewAuditLogger(db, 0, logger)
		a.closers = append(a.closers, a.metrics.Close, audit.Close)
	}

	reg := plugin.NewRegistry(logger)
	tess := &ocr.Tesseract{Binary: opts.tesseract}
	if tess.Available() {
		if err := reg.RegisterOcrBackend(tess); err != nil {
			logger.Warn("docextract: register tesseract", "error", err)
		}
	} else {
		logger.Debug("docextract: tesseract not found, OCR disabled", "binary", opts.tesseract)
	}

	a.pipe = docpipe.New(docpipe.Config{
		MaxConcurrent: opts.workers,
		Root:          opts.root,
		Registry:      reg,
		Cache:         c,
		Metrics:       a.metrics,
		Audit:         audit,
		Logger:        logger,
	})
	a.closers = append(a.closers, a.pipe.Close)
	return a, nil
}

func openMetricsDB(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("metrics db: %w", err)
	}
	if err := observability.Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics schema: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- extract ---

func newExtractCmd(opts *options) *cobra.Command {
	var (
		mime        string
		format      string
		contentOnly bool
		pages       bool
		elements    bool
		forceOCR    bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract one document and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg.Clone()
			if format != "" {
				cfg.OutputFormat = config.OutputFormat(format)
			}
			if pages {
				cfg.Pages = &config.PageConfig{ExtractPages: true}
			}
			if elements {
				cfg.ResultFormat = config.ResultElementBased
			}
			if forceOCR {
				cfg.ForceOCR = true
			}

			res, err := a.pipe.ExtractFile(cmd.Context(), args[0], mime, cfg)
			if err != nil {
				return err
			}
			if contentOnly {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Content)
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&mime, "mime", "", "MIME type (detected from the extension when empty)")
	f.StringVarP(&format, "format", "f", "", "output format: plain, markdown, djot, html")
	f.BoolVar(&contentOnly, "content", false, "print only the content")
	f.BoolVar(&pages, "pages", false, "include per-page content")
	f.BoolVar(&elements, "elements", false, "element-based result")
	f.BoolVar(&forceOCR, "ocr", false, "force OCR on PDFs and images")
	return cmd
}

// --- batch ---

type batchLine struct {
	Path   string `json:"path"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newBatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>...",
		Short: "Extract several documents concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			items := make([]docpipe.BatchItem, len(args))
			for i, p := range args {
				items[i] = docpipe.BatchItem{Path: p}
			}
			results := a.pipe.BatchExtract(cmd.Context(), items, a.cfg)

			out := make([]batchLine, len(results))
			failed := 0
			for i, r := range results {
				out[i] = batchLine{Path: args[i]}
				if r.Err != nil {
					out[i].Error = r.Err.Error()
					failed++
					continue
				}
				out[i].Result = r.Result
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
}

// --- detect ---

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>",
		Short: "Print the MIME type of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mime, err := detect(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), mime)
			return err
		},
	}
}

// detect trusts a known extension and sniffs the first bytes otherwise.
func detect(path string) (string, error) {
	if m, err := mimes.FromPath(path); err == nil {
		return m, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return mimes.Detect(head[:n]), nil
}

// --- cache ---

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := setup(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				s, err := a.pipe.Cache().Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := setup(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.pipe.Cache().Clear(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info("docextract: cache cleared", "db", opts.cacheDB)
				return nil
			},
		},
	)
	return cmd
}

// --- metrics ---

func newMetricsCmd(opts *options) *cobra.Command {
	var retention int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize recorded metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.metricsDB == "" {
				return errors.New("--metrics-db is required")
			}
			a, err := setup(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if retention > 0 {
				n, err := a.metrics.Cleanup(cmd.Context(), retention)
				if err != nil {
					return err
				}
				a.logger.Info("docextract: metrics pruned", "removed", n)
			}
			sum, err := a.metrics.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().IntVar(&retention, "retention-days", 0, "delete metrics older than this many days first")
	return cmd
}
