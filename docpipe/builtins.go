package docpipe

import (
	"context"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/governor"
	"github.com/hazyhaar/docextract/mimes"
	"github.com/hazyhaar/docextract/ocr"
	"github.com/hazyhaar/docextract/plugin"
)

type parseFunc func(ctx context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (*parsed, error)

// builtin adapts a format parser to plugin.DocumentExtractor.
type builtin struct {
	name  string
	mimes []string
	parse parseFunc
	ocr   bool
}

func (b *builtin) Name() string                 { return b.name }
func (b *builtin) SupportedMimeTypes() []string { return b.mimes }
func (b *builtin) Priority() int                { return plugin.DefaultPriority }
func (b *builtin) SupportsOCR() bool            { return b.ocr }

func (b *builtin) Extract(ctx context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (*document.Result, error) {
	if cfg == nil {
		cfg = (&config.ExtractionConfig{}).WithDefaults()
	}
	p, err := b.parse(ctx, data, mime, cfg)
	if err != nil {
		return nil, err
	}
	return assemble(p, mime, cfg), nil
}

// Builtins returns the built-in extractors. svc and gov serve the PDF and
// image extractors; a nil svc disables their OCR path.
func Builtins(svc *ocr.Service, gov *governor.Governor) []plugin.DocumentExtractor {
	pdf := &pdfParser{gov: gov, ocr: svc}
	img := &imageParser{ocr: svc}
	return []plugin.DocumentExtractor{
		&builtin{name: "text", mimes: []string{mimes.PlainText, mimes.Markdown}, parse: parseText},
		&builtin{name: "html", mimes: []string{mimes.HTML, mimes.XHTML}, parse: parseHTML},
		&builtin{name: "pdf", mimes: []string{mimes.PDF}, parse: pdf.parse, ocr: true},
		&builtin{name: "docx", mimes: []string{mimes.DOCX}, parse: parseDocx},
		&builtin{name: "odt", mimes: []string{mimes.ODT}, parse: parseODT},
		&builtin{name: "xlsx", mimes: []string{mimes.XLSX}, parse: parseXLSX},
		&builtin{name: "pptx", mimes: []string{mimes.PPTX}, parse: parsePPTX},
		&builtin{name: "email", mimes: []string{mimes.EML, mimes.MBOX}, parse: parseEmail},
		&builtin{name: "archive", mimes: []string{mimes.ZIP, mimes.TAR, mimes.GZIP}, parse: parseArchive},
		&builtin{name: "image", mimes: []string{mimes.PNG, mimes.JPEG, mimes.GIF, mimes.BMP, mimes.TIFF, mimes.WEBP}, parse: img.parse, ocr: true},
		&builtin{name: "xml", mimes: []string{mimes.XML, mimes.TextXML}, parse: parseXML},
		&builtin{name: "structured", mimes: []string{mimes.JSON, mimes.YAML, mimes.TextYAML, mimes.CSV, mimes.TSV}, parse: parseStructured},
	}
}

// RegisterBuiltins adds the built-in extractors to reg as built-ins, so a
// later user extractor for the same MIME type does not displace them. Names
// already registered are left alone, so a caller's own "pdf" extractor
// survives.
func RegisterBuiltins(reg *plugin.Registry, svc *ocr.Service, gov *governor.Governor) error {
	for _, e := range Builtins(svc, gov) {
		if _, taken := reg.Extractor(e.Name()); taken {
			continue
		}
		if err := reg.RegisterBuiltinExtractor(e); err != nil {
			// Lost a registration race with another pipeline on the
			// same registry.
			if docerr.KindOf(err) == docerr.KindPlugin {
				if _, taken := reg.Extractor(e.Name()); taken {
					continue
				}
			}
			return err
		}
	}
	return nil
}
