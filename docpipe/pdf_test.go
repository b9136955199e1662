package docpipe

import (
	"strings"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

func TestExtractPDF_TextLayerSkipsOCR(t *testing.T) {
	// WHAT: a PDF with a good text layer is not OCRed even with OCR configured.
	pipe := newTestPipeline(t)
	backend := &countingOCR{name: "fake", text: "should not appear"}
	if err := pipe.Registry().RegisterOcrBackend(backend); err != nil {
		t.Fatal(err)
	}

	raw := buildTextPDF("Hello World from PDF extraction test, a page with a proper text layer.")
	cfg := &config.ExtractionConfig{OCR: &config.OCRConfig{Backend: "fake"}}
	res := extract(t, pipe, raw, mimes.PDF, cfg)

	if n := backend.calls.Load(); n != 0 {
		t.Errorf("OCR backend called %d times, want 0", n)
	}
	if !strings.Contains(res.Content, "Hello World") {
		t.Errorf("content = %q", res.Content)
	}
	if res.Metadata.Format.Type != document.FormatPDF {
		t.Fatalf("format type = %q", res.Metadata.Format.Type)
	}
	pm := res.Metadata.Format.PDF
	if pm.PageCount != 1 || pm.NeedsOCR || pm.IsEncrypted || pm.PDFVersion != "1.4" {
		t.Errorf("pdf metadata = %+v", pm)
	}
	if res.Metadata.QualityScore == nil {
		t.Error("expected a quality score")
	}
}

func TestExtractPDF_Pages(t *testing.T) {
	pipe := newTestPipeline(t)
	raw := buildTextPDF("First page text", "Second page text")
	cfg := &config.ExtractionConfig{
		Pages: &config.PageConfig{ExtractPages: true, InsertPageMarkers: true},
	}
	res := extract(t, pipe, raw, mimes.PDF, cfg)

	if len(res.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(res.Pages))
	}
	for i, pg := range res.Pages {
		if pg.PageNumber != i+1 {
			t.Errorf("page %d: number %d", i, pg.PageNumber)
		}
		runes := []rune(res.Content)
		if pg.CharEnd > len(runes) || pg.CharStart > pg.CharEnd {
			t.Fatalf("page %d: span [%d,%d) outside content of %d runes", i, pg.CharStart, pg.CharEnd, len(runes))
		}
		if got := string(runes[pg.CharStart:pg.CharEnd]); !strings.Contains(got, pg.Content) {
			t.Errorf("page %d: span %q does not hold %q", i, got, pg.Content)
		}
	}
	for _, m := range []string{"<!-- PAGE 1 -->", "<!-- PAGE 2 -->"} {
		if !strings.Contains(res.Content, m) {
			t.Errorf("missing marker %q in %q", m, res.Content)
		}
	}
	if strings.Index(res.Content, "First page") > strings.Index(res.Content, "Second page") {
		t.Error("pages out of order")
	}
}

func TestExtractPDF_ElementsPageBreak(t *testing.T) {
	pipe := newTestPipeline(t)
	raw := buildTextPDF("Alpha page", "Beta page")
	res := extract(t, pipe, raw, mimes.PDF, &config.ExtractionConfig{ResultFormat: config.ResultElementBased})

	var breaks int
	for _, e := range res.Elements {
		if e.ElementType == "page_break" {
			breaks++
			if e.PageNumber != 2 {
				t.Errorf("page_break on page %d", e.PageNumber)
			}
		}
		if e.ElementID == "" {
			t.Error("element without id")
		}
	}
	if breaks != 1 {
		t.Errorf("page breaks = %d, want 1", breaks)
	}
}

func TestExtractPDF_Garbage(t *testing.T) {
	pipe := newTestPipeline(t)
	_, err := pipe.ExtractSync([]byte("%PDF-1.4\nnot really a pdf"), mimes.PDF, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if k := docerr.KindOf(err); k != docerr.KindParsing {
		t.Errorf("kind = %v, want parsing", k)
	}
}

func TestPDFDate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"D:20240115103000Z", "2024-01-15T10:30:00Z"},
		{"D:20240115103000+02'00'", "2024-01-15T10:30:00+02:00"},
		{"D:20240115", "2024-01-15T00:00:00"},
		{"2024", "2024"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := pdfDate(tt.in); got != tt.want {
			t.Errorf("pdfDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
