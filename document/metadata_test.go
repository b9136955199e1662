package document

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMetadata_FlattenedWireFormat(t *testing.T) {
	var m Metadata
	m.Language = "en"
	m.SetFormat(&PDFMetadata{Title: "Report", PageCount: 3, PDFVersion: "1.7"})
	m.Set("reviewed_by", "ops")

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}

	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["format_type"] != "pdf" {
		t.Errorf("format_type: got %v", flat["format_type"])
	}
	if flat["title"] != "Report" {
		t.Errorf("title not flattened: %v", flat)
	}
	if flat["page_count"] != float64(3) {
		t.Errorf("page_count: got %v", flat["page_count"])
	}
	if flat["reviewed_by"] != "ops" {
		t.Errorf("extension key missing: %v", flat)
	}
	if flat["language"] != "en" {
		t.Errorf("language: got %v", flat["language"])
	}
}

func TestMetadata_RoundTrip(t *testing.T) {
	score := 0.92
	tests := []struct {
		name    string
		payload any
	}{
		{"pdf", &PDFMetadata{Title: "T", Authors: []string{"a", "b"}, PageCount: 2, IsEncrypted: true}},
		{"excel", &ExcelMetadata{SheetCount: 2, SheetNames: []string{"S1", "S2"}}},
		{"email", &EmailMetadata{FromEmail: "a@example.com", ToEmails: []string{"b@example.com"}, MessageID: "<x@y>"}},
		{"pptx", &PPTXMetadata{Title: "Deck", SlideCount: 4}},
		{"archive", &ArchiveMetadata{Format: "zip", FileCount: 1, FileList: []string{"a.txt"}, TotalSize: 12}},
		{"image", &ImageMetadata{Width: 10, Height: 20, Format: "png"}},
		{"xml", &XMLMetadata{ElementCount: 5, UniqueElements: []string{"root", "item"}}},
		{"text", &TextMetadata{LineCount: 2, WordCount: 4, CharacterCount: 20, Headers: []string{"Intro"}}},
		{"html", &HTMLMetadata{Title: "Page", OGTitle: "OG"}},
		{"ocr", &OCRMetadata{OCRLanguage: "eng", Backend: "tesseract", TableCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Metadata
			m.Subject = "s"
			m.QualityScore = &score
			m.SetFormat(tt.payload)
			m.Set("custom", "v")

			raw, err := json.Marshal(m)
			if err != nil {
				t.Fatal(err)
			}
			var back Metadata
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatal(err)
			}
			if back.FormatType() != FormatType(tt.name) {
				t.Fatalf("format type: got %q", back.FormatType())
			}
			if !reflect.DeepEqual(back.Format.payload(), tt.payload) {
				t.Errorf("payload mismatch:\n got %+v\nwant %+v", back.Format.payload(), tt.payload)
			}
			if back.Subject != "s" || back.QualityScore == nil || *back.QualityScore != score {
				t.Errorf("generic fields lost: %+v", back)
			}
			if back.Additional["custom"] != "v" {
				t.Errorf("additional lost: %v", back.Additional)
			}
			if _, leaked := back.Additional["format_type"]; leaked {
				t.Error("format_type must not leak into Additional")
			}
		})
	}
}

func TestMetadata_KnownFieldsWinOverAdditional(t *testing.T) {
	var m Metadata
	m.SetFormat(&TextMetadata{LineCount: 7})
	m.Set("line_count", 99)

	raw, _ := json.Marshal(m)
	var back Metadata
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Format.Text.LineCount != 7 {
		t.Errorf("line_count: got %d, want 7", back.Format.Text.LineCount)
	}
}

func TestMetadata_UnknownFormatTypeKept(t *testing.T) {
	var m Metadata
	if err := json.Unmarshal([]byte(`{"format_type":"cad","layers":3}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.FormatType() != FormatUnknown {
		t.Fatalf("got %q", m.FormatType())
	}
	if m.Additional["format_type"] != "cad" || m.Additional["layers"] != float64(3) {
		t.Errorf("additional: %v", m.Additional)
	}
}

func TestResultClone_Independent(t *testing.T) {
	r := &Result{
		Content: "x",
		Tables:  []Table{{Cells: [][]string{{"a"}}}},
		Chunks:  []Chunk{{Content: "x", Embedding: []float32{1}}},
	}
	r.Metadata.SetFormat(&TextMetadata{Headers: []string{"h"}})

	c := r.Clone()
	c.Tables[0].Cells[0][0] = "changed"
	c.Chunks[0].Embedding[0] = 2
	c.Metadata.Format.Text.Headers[0] = "changed"

	if r.Tables[0].Cells[0][0] != "a" || r.Chunks[0].Embedding[0] != 1 {
		t.Error("clone shares slices with original")
	}
	if r.Metadata.Format.Text.Headers[0] != "h" {
		t.Error("clone shares metadata payload")
	}
}
