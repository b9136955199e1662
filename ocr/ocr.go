// Package ocr runs image preprocessing and an OCR backend from the plugin
// registry. Backend calls are blocking and always go through the
// governor's blocking pool.
package ocr

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/governor"
	"github.com/hazyhaar/docextract/plugin"
)

// Service ties the registry's OCR backends to the governor.
type Service struct {
	registry *plugin.Registry
	gov      *governor.Governor
	logger   *slog.Logger
}

// NewService returns a Service. logger may be nil.
func NewService(reg *plugin.Registry, gov *governor.Governor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, gov: gov, logger: logger}
}

// Output is the result of one OCR run.
type Output struct {
	Text    string
	Tables  []document.Table
	Backend string
	Info    Info
}

// Run preprocesses image and recognizes its text. cfg must have defaults
// applied. imgCfg may be nil. sourceDPI is the resolution the image was
// rendered at, 0 when unknown.
func (s *Service) Run(ctx context.Context, image []byte, sourceDPI int, cfg *config.OCRConfig, imgCfg *config.ImageExtractionConfig) (*Output, error) {
	if cfg == nil {
		return nil, docerr.Validation("ocr: no configuration")
	}
	backend, err := s.registry.OcrBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	opts := OptionsFromConfig(cfg.Preprocessing, imgCfg)
	opts.SourceDPI = sourceDPI

	start := time.Now()
	out, err := governor.Run(ctx, s.gov, func() (*Output, error) {
		png, info, err := Preprocess(image, opts)
		if err != nil {
			return nil, err
		}
		text, err := backend.ExtractText(ctx, png, cfg.Language, cfg)
		if err != nil {
			return nil, docerr.Ensure(err, docerr.KindExecution).WithStage("ocr:" + backend.Name())
		}
		o := &Output{Text: text, Backend: backend.Name(), Info: info}
		if td, ok := backend.(plugin.TableDetector); ok && cfg.TableDetection {
			tables, err := td.DetectTables(ctx, png, cfg.Language, cfg)
			if err != nil {
				return nil, docerr.Ensure(err, docerr.KindExecution).WithStage("ocr:" + backend.Name())
			}
			o.Tables = tables
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ocr: done", "backend", out.Backend, "chars", len(out.Text),
		"width", out.Info.Width, "height", out.Info.Height, "skew", out.Info.SkewDegrees,
		"duration", time.Since(start))
	return out, nil
}
