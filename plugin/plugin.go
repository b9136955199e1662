// Package plugin defines the four plugin categories of docextract
// (DocumentExtractor, OcrBackend, PostProcessor, Validator) and the
// Registry that holds them.
//
// A plugin is any value implementing the category interface. Optional
// behaviour is discovered through small extra interfaces: Initializer and
// Shutdowner for lifecycle, Prioritized for extractor precedence, Stageful
// for post-processor grouping, TableDetector for OCR backends.
package plugin

import (
	"context"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
)

// DefaultPriority is the priority of extractors that do not implement
// Prioritized. Built-in extractors use it too.
const DefaultPriority = 50

// Plugin is the part every plugin shares.
type Plugin interface {
	Name() string
}

// DocumentExtractor turns raw bytes of a supported MIME type into a Result.
// SupportedMimeTypes may contain family wildcards such as "image/*".
type DocumentExtractor interface {
	Plugin
	SupportedMimeTypes() []string
	Extract(ctx context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error)
}

// OcrBackend recognizes text in an encoded image (PNG after preprocessing).
// Calls are blocking; the caller runs them off the orchestration path.
type OcrBackend interface {
	Plugin
	ExtractText(ctx context.Context, image []byte, language string, cfg *config.OCRConfig) (string, error)
}

// PostProcessor transforms a result after the built-in stages.
type PostProcessor interface {
	Plugin
	Process(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) (*document.Result, error)
}

// Validator accepts or rejects a final result. A non-nil error fails the
// whole extraction.
type Validator interface {
	Plugin
	Validate(ctx context.Context, r *document.Result, cfg *config.ExtractionConfig) error
}

// Initializer is called once when a plugin is registered. An error aborts
// the registration.
type Initializer interface {
	Initialize() error
}

// Shutdowner is called when a plugin is unregistered or cleared.
type Shutdowner interface {
	Shutdown() error
}

// Prioritized lets an extractor win over others claiming the same MIME
// type. Higher wins.
type Prioritized interface {
	Priority() int
}

// OCRCapable marks an extractor that can honour ExtractionConfig.ForceOCR.
type OCRCapable interface {
	SupportsOCR() bool
}

// TableDetector is implemented by OCR backends that can return tables.
type TableDetector interface {
	DetectTables(ctx context.Context, image []byte, language string, cfg *config.OCRConfig) ([]document.Table, error)
}

// Stage groups post-processors. Within a stage, registration order holds.
type Stage int

const (
	StageEarly Stage = iota
	StageMiddle
	StageLate
)

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "early"
	case StageLate:
		return "late"
	}
	return "middle"
}

// Stageful lets a post-processor choose its stage. Default StageMiddle.
type Stageful interface {
	ProcessingStage() Stage
}

func priorityOf(e DocumentExtractor) int {
	if p, ok := e.(Prioritized); ok {
		return p.Priority()
	}
	return DefaultPriority
}

func stageOf(p PostProcessor) Stage {
	if s, ok := p.(Stageful); ok {
		return s.ProcessingStage()
	}
	return StageMiddle
}
