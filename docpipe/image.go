package docpipe

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/ocr"
)

// imageParser handles standalone images. Without OCR configured the result
// carries image metadata only.
type imageParser struct {
	ocr *ocr.Service
}

func (x *imageParser) parse(ctx context.Context, data []byte, _ string, cfg *config.ExtractionConfig) (*parsed, error) {
	ic, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "image: decode")
	}
	p := &parsed{}
	if cfg.Images.ExtractImagesEnabled() {
		img := document.ExtractedImage{Data: data, Format: format}
		decorateImage(&img)
		p.images = []document.ExtractedImage{img}
	}

	if cfg.OCR == nil || x.ocr == nil {
		p.meta.SetFormat(&document.ImageMetadata{Width: ic.Width, Height: ic.Height, Format: format})
		return p, nil
	}

	out, err := x.ocr.Run(ctx, data, 0, cfg.OCR, cfg.Images)
	if err != nil {
		return nil, err
	}
	p.ocr = true
	for _, para := range splitParagraphs(strings.ReplaceAll(out.Text, "\r\n", "\n")) {
		p.sections = append(p.sections, document.Section{Text: para, Type: typeParagraph})
	}
	ocrMeta := &document.OCRMetadata{
		OCRLanguage:  cfg.OCR.Language,
		Backend:      out.Backend,
		OutputFormat: "text",
		TableCount:   len(out.Tables),
	}
	for _, t := range out.Tables {
		p.sections = append(p.sections, document.Section{Type: typeTable, Table: t.Cells})
		ocrMeta.TableRows = max(ocrMeta.TableRows, len(t.Cells))
		for _, row := range t.Cells {
			ocrMeta.TableCols = max(ocrMeta.TableCols, len(row))
		}
	}
	if psm, err := strconv.Atoi(cfg.OCR.Params["psm"]); err == nil {
		ocrMeta.PSM = psm
	}
	p.meta.SetFormat(ocrMeta)
	p.meta.ImagePreprocessing = preprocessingMetadata(out.Info, ocr.OptionsFromConfig(cfg.OCR.Preprocessing, cfg.Images))
	p.meta.Set("image_width", ic.Width)
	p.meta.Set("image_height", ic.Height)
	p.meta.Set("image_format", format)
	return p, nil
}

func preprocessingMetadata(info ocr.Info, opts ocr.Options) *document.ImagePreprocessingMetadata {
	m := &document.ImagePreprocessingMetadata{
		OriginalDimensions: [2]int{info.OriginalWidth, info.OriginalHeight},
		OriginalDPI:        [2]int{opts.SourceDPI, opts.SourceDPI},
		TargetDPI:          opts.TargetDPI,
		ScaleFactor:        info.Scale,
		AutoAdjusted:       opts.AutoAdjust,
		FinalDPI:           int(float64(opts.SourceDPI) * info.Scale),
		NewDimensions:      [2]int{info.Width, info.Height},
		ResampleMethod:     "catmull-rom",
		SkippedResize:      info.Scale == 1,
		Steps:              []string{"grayscale"},
	}
	if opts.MaxDimension > 0 && max(info.Width, info.Height) == opts.MaxDimension && info.Scale < 1 {
		m.DimensionClamped = true
	}
	if !m.SkippedResize {
		m.Steps = append([]string{"resize"}, m.Steps...)
	}
	if opts.ContrastEnhance {
		m.Steps = append(m.Steps, "contrast")
	}
	if opts.Denoise {
		m.Steps = append(m.Steps, "denoise")
	}
	if opts.Deskew {
		m.Steps = append(m.Steps, "deskew")
	}
	if info.Threshold > 0 {
		m.Steps = append(m.Steps, "binarize")
	}
	if opts.Invert {
		m.Steps = append(m.Steps, "invert")
	}
	return m
}

// decorateImage fills dimensions and colorspace of decodable images.
func decorateImage(img *document.ExtractedImage) {
	ic, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return
	}
	img.Width, img.Height = ic.Width, ic.Height
	if img.Format == "" {
		img.Format = format
	}
	img.Colorspace, img.BitsPerComponent = colorspace(ic.ColorModel)
}

func colorspace(m color.Model) (string, int) {
	if _, ok := m.(color.Palette); ok {
		return "Indexed", 8
	}
	switch m {
	case color.GrayModel:
		return "DeviceGray", 8
	case color.Gray16Model:
		return "DeviceGray", 16
	case color.CMYKModel:
		return "DeviceCMYK", 8
	case color.RGBA64Model, color.NRGBA64Model:
		return "DeviceRGB", 16
	case color.AlphaModel, color.Alpha16Model:
		return "Alpha", 8
	}
	return "DeviceRGB", 8
}
