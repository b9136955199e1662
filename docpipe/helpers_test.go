package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/plugin"
)

// newTestPipeline returns a pipeline on a fresh registry with the built-in
// extractors.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	pipe := New(Config{Registry: plugin.NewRegistry(nil)})
	t.Cleanup(func() { pipe.Close() })
	return pipe
}

func extract(t *testing.T, pipe *Pipeline, data []byte, mime string, cfg *config.ExtractionConfig) *document.Result {
	t.Helper()
	res, err := pipe.Extract(context.Background(), data, mime, cfg)
	if err != nil {
		t.Fatalf("extract %s: %v", mime, err)
	}
	return res
}

// zipBytes builds a zip archive from name → content, in the given order.
func zipBytes(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(f[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// pngBytes renders a small grayscale PNG with a dark bar.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := uint8(255)
			if y > h/3 && y < 2*h/3 && x > w/4 && x < 3*w/4 {
				c = 0
			}
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// countingOCR is an OCR backend returning fixed text and counting calls.
type countingOCR struct {
	name  string
	text  string
	calls atomic.Int32
}

func (c *countingOCR) Name() string { return c.name }

func (c *countingOCR) ExtractText(_ context.Context, _ []byte, _ string, _ *config.OCRConfig) (string, error) {
	c.calls.Add(1)
	return c.text, nil
}

// countingExtractor claims one MIME type and counts calls.
type countingExtractor struct {
	name  string
	mime  string
	calls atomic.Int32
	fn    func(data []byte) (*document.Result, error)
}

func (c *countingExtractor) Name() string                 { return c.name }
func (c *countingExtractor) SupportedMimeTypes() []string { return []string{c.mime} }
func (c *countingExtractor) Priority() int                { return 100 }

func (c *countingExtractor) Extract(_ context.Context, data []byte, mime string, _ *config.ExtractionConfig) (*document.Result, error) {
	c.calls.Add(1)
	if c.fn != nil {
		return c.fn(data)
	}
	return &document.Result{Content: string(data), MimeType: mime}, nil
}

// --- PDF builders ---

// buildTextPDF creates a valid PDF with proper xref offsets, one page per
// text.
func buildTextPDF(pages ...string) []byte {
	n := len(pages)
	// Objects: 1 catalog, 2 pages, 3 font, then page/content pairs.
	total := 3 + 2*n
	offsets := make([]int, total+1)

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [")
	for i := range n {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(pdfItoa(4+2*i) + " 0 R")
	}
	b.WriteString("] /Count " + pdfItoa(n) + " >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, text := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i
		escaped := strings.ReplaceAll(text, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, "(", `\(`)
		escaped = strings.ReplaceAll(escaped, ")", `\)`)
		stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

		offsets[pageObj] = b.Len()
		b.WriteString(pdfItoa(pageObj) + " 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents ")
		b.WriteString(pdfItoa(contentObj) + " 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n")

		offsets[contentObj] = b.Len()
		b.WriteString(pdfItoa(contentObj) + " 0 obj\n<< /Length ")
		b.WriteString(pdfItoa(len(stream)))
		b.WriteString(" >>\nstream\n")
		b.WriteString(stream)
		b.WriteString("\nendstream\nendobj\n")
	}

	xrefOffset := b.Len()
	b.WriteString("xref\n0 " + pdfItoa(total+1) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		b.WriteString(pdfPadOffset(offsets[i]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + pdfItoa(total+1) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(pdfItoa(xrefOffset))
	b.WriteString("\n%%EOF\n")

	return []byte(b.String())
}

func pdfItoa(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func pdfPadOffset(n int) string {
	s := pdfItoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}
