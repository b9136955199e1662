package document

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// FormatType discriminates the Metadata union.
type FormatType string

const (
	FormatUnknown FormatType = ""
	FormatPDF     FormatType = "pdf"
	FormatExcel   FormatType = "excel"
	FormatEmail   FormatType = "email"
	FormatPPTX    FormatType = "pptx"
	FormatArchive FormatType = "archive"
	FormatImage   FormatType = "image"
	FormatXML     FormatType = "xml"
	FormatText    FormatType = "text"
	FormatHTML    FormatType = "html"
	FormatOCR     FormatType = "ocr"
)

// Metadata is the unified metadata of a Result. Exactly one of the format
// payloads in Format is set, matching Format.Type. On the wire the payload
// fields sit at the top level next to "format_type", the generic fields and
// the Additional extension keys.
type Metadata struct {
	Language           string                      `json:"language,omitempty"`
	Date               string                      `json:"date,omitempty"`
	Subject            string                      `json:"subject,omitempty"`
	QualityScore       *float64                    `json:"quality_score,omitempty"`
	ImagePreprocessing *ImagePreprocessingMetadata `json:"image_preprocessing,omitempty"`
	Error              *ErrorMetadata              `json:"error,omitempty"`

	Format FormatMetadata `json:"-"`

	// Additional holds keys added by post-processors or extractors that have
	// no dedicated field. Keys colliding with a known field are ignored on
	// marshal.
	Additional map[string]any `json:"-"`
}

// FormatMetadata is the tagged variant.
type FormatMetadata struct {
	Type    FormatType
	PDF     *PDFMetadata
	Excel   *ExcelMetadata
	Email   *EmailMetadata
	PPTX    *PPTXMetadata
	Archive *ArchiveMetadata
	Image   *ImageMetadata
	XML     *XMLMetadata
	Text    *TextMetadata
	HTML    *HTMLMetadata
	OCR     *OCRMetadata
}

// PDFMetadata is set for PDF documents.
type PDFMetadata struct {
	Title       string   `json:"title,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	ModifiedAt  string   `json:"modified_at,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
	Producer    string   `json:"producer,omitempty"`
	PageCount   int      `json:"page_count"`
	PDFVersion  string   `json:"pdf_version,omitempty"`
	IsEncrypted bool     `json:"is_encrypted"`
	NeedsOCR    bool     `json:"needs_ocr,omitempty"`
	ImageCount  int      `json:"image_count,omitempty"`
}

// ExcelMetadata is set for spreadsheets.
type ExcelMetadata struct {
	SheetCount int      `json:"sheet_count"`
	SheetNames []string `json:"sheet_names"`
}

// EmailMetadata is set for RFC 822 messages and mailboxes.
type EmailMetadata struct {
	FromEmail    string   `json:"from_email,omitempty"`
	FromName     string   `json:"from_name,omitempty"`
	ToEmails     []string `json:"to_emails,omitempty"`
	CcEmails     []string `json:"cc_emails,omitempty"`
	BccEmails    []string `json:"bcc_emails,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	Attachments  []string `json:"attachments,omitempty"`
	MessageCount int      `json:"message_count,omitempty"`
}

// PPTXMetadata is set for slide decks.
type PPTXMetadata struct {
	Title       string   `json:"title,omitempty"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	SlideCount  int      `json:"slide_count"`
	Fonts       []string `json:"fonts,omitempty"`
}

// ArchiveMetadata is set for zip, tar and gzip inputs.
type ArchiveMetadata struct {
	Format         string   `json:"format"`
	FileCount      int      `json:"file_count"`
	FileList       []string `json:"file_list"`
	TotalSize      int64    `json:"total_size"`
	CompressedSize int64    `json:"compressed_size,omitempty"`
}

// ImageMetadata is set for standalone images.
type ImageMetadata struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Format string            `json:"format"`
	EXIF   map[string]string `json:"exif,omitempty"`
}

// XMLMetadata is set for XML documents.
type XMLMetadata struct {
	ElementCount   int      `json:"element_count"`
	UniqueElements []string `json:"unique_elements"`
}

// TextMetadata is set for plain text, markdown, office text documents and
// structured text.
type TextMetadata struct {
	LineCount      int         `json:"line_count"`
	WordCount      int         `json:"word_count"`
	CharacterCount int         `json:"character_count"`
	Headers        []string    `json:"headers,omitempty"`
	Links          [][2]string `json:"links,omitempty"`
	CodeBlocks     [][2]string `json:"code_blocks,omitempty"`
}

// HTMLMetadata is set for HTML documents.
type HTMLMetadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Author        string `json:"author,omitempty"`
	Canonical     string `json:"canonical,omitempty"`
	BaseHref      string `json:"base_href,omitempty"`
	OGTitle       string `json:"og_title,omitempty"`
	OGDescription string `json:"og_description,omitempty"`
	OGImage       string `json:"og_image,omitempty"`
	OGURL         string `json:"og_url,omitempty"`
	OGType        string `json:"og_type,omitempty"`
	OGSiteName    string `json:"og_site_name,omitempty"`
	TwitterCard   string `json:"twitter_card,omitempty"`
	TwitterTitle  string `json:"twitter_title,omitempty"`
}

// OCRMetadata is set when the content came from OCR.
type OCRMetadata struct {
	OCRLanguage  string  `json:"ocr_language"`
	Backend      string  `json:"ocr_backend"`
	PSM          int     `json:"psm,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	TableCount   int     `json:"table_count"`
	TableRows    int     `json:"table_rows,omitempty"`
	TableCols    int     `json:"table_cols,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// ImagePreprocessingMetadata records what OCR preprocessing did.
type ImagePreprocessingMetadata struct {
	OriginalDimensions [2]int   `json:"original_dimensions"`
	OriginalDPI        [2]int   `json:"original_dpi"`
	TargetDPI          int      `json:"target_dpi"`
	ScaleFactor        float64  `json:"scale_factor"`
	AutoAdjusted       bool     `json:"auto_adjusted"`
	FinalDPI           int      `json:"final_dpi"`
	NewDimensions      [2]int   `json:"new_dimensions"`
	ResampleMethod     string   `json:"resample_method"`
	DimensionClamped   bool     `json:"dimension_clamped"`
	SkippedResize      bool     `json:"skipped_resize"`
	Steps              []string `json:"steps,omitempty"`
}

// ErrorMetadata describes a failed batch item.
type ErrorMetadata struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// SetFormat stores a format payload and its discriminator. payload must be
// one of the *XxxMetadata pointer types.
func (m *Metadata) SetFormat(payload any) {
	f := FormatMetadata{}
	switch p := payload.(type) {
	case *PDFMetadata:
		f.Type, f.PDF = FormatPDF, p
	case *ExcelMetadata:
		f.Type, f.Excel = FormatExcel, p
	case *EmailMetadata:
		f.Type, f.Email = FormatEmail, p
	case *PPTXMetadata:
		f.Type, f.PPTX = FormatPPTX, p
	case *ArchiveMetadata:
		f.Type, f.Archive = FormatArchive, p
	case *ImageMetadata:
		f.Type, f.Image = FormatImage, p
	case *XMLMetadata:
		f.Type, f.XML = FormatXML, p
	case *TextMetadata:
		f.Type, f.Text = FormatText, p
	case *HTMLMetadata:
		f.Type, f.HTML = FormatHTML, p
	case *OCRMetadata:
		f.Type, f.OCR = FormatOCR, p
	}
	m.Format = f
}

// FormatType returns the discriminator.
func (m Metadata) FormatType() FormatType { return m.Format.Type }

// payload returns the active variant, or nil.
func (f FormatMetadata) payload() any {
	switch f.Type {
	case FormatPDF:
		return nilIfNil(f.PDF)
	case FormatExcel:
		return nilIfNil(f.Excel)
	case FormatEmail:
		return nilIfNil(f.Email)
	case FormatPPTX:
		return nilIfNil(f.PPTX)
	case FormatArchive:
		return nilIfNil(f.Archive)
	case FormatImage:
		return nilIfNil(f.Image)
	case FormatXML:
		return nilIfNil(f.XML)
	case FormatText:
		return nilIfNil(f.Text)
	case FormatHTML:
		return nilIfNil(f.HTML)
	case FormatOCR:
		return nilIfNil(f.OCR)
	}
	return nil
}

func nilIfNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

// newPayload allocates the variant for t, or returns nil for unknown types.
func newPayload(t FormatType) any {
	switch t {
	case FormatPDF:
		return &PDFMetadata{}
	case FormatExcel:
		return &ExcelMetadata{}
	case FormatEmail:
		return &EmailMetadata{}
	case FormatPPTX:
		return &PPTXMetadata{}
	case FormatArchive:
		return &ArchiveMetadata{}
	case FormatImage:
		return &ImageMetadata{}
	case FormatXML:
		return &XMLMetadata{}
	case FormatText:
		return &TextMetadata{}
	case FormatHTML:
		return &HTMLMetadata{}
	case FormatOCR:
		return &OCRMetadata{}
	}
	return nil
}

// metadataFields is the alias used to (un)marshal the generic fields without
// recursing into the custom methods.
type metadataFields struct {
	Language           string                      `json:"language,omitempty"`
	Date               string                      `json:"date,omitempty"`
	Subject            string                      `json:"subject,omitempty"`
	QualityScore       *float64                    `json:"quality_score,omitempty"`
	ImagePreprocessing *ImagePreprocessingMetadata `json:"image_preprocessing,omitempty"`
	Error              *ErrorMetadata              `json:"error,omitempty"`
}

const formatTypeKey = "format_type"

// MarshalJSON flattens the union: Additional first, then the generic
// fields, then the variant fields, then format_type. Later writers win.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Additional)+8)
	for k, v := range m.Additional {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		out[k] = raw
	}

	generic := metadataFields{
		Language:           m.Language,
		Date:               m.Date,
		Subject:            m.Subject,
		QualityScore:       m.QualityScore,
		ImagePreprocessing: m.ImagePreprocessing,
		Error:              m.Error,
	}
	if err := mergeObject(out, generic); err != nil {
		return nil, err
	}
	if p := m.Format.payload(); p != nil {
		if err := mergeObject(out, p); err != nil {
			return nil, err
		}
	}
	if m.Format.Type != FormatUnknown {
		out[formatTypeKey], _ = json.Marshal(string(m.Format.Type))
	}
	return json.Marshal(out)
}

func mergeObject(dst map[string]json.RawMessage, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for k, f := range fields {
		dst[k] = f
	}
	return nil
}

// UnmarshalJSON reverses MarshalJSON. Keys that are neither generic nor part
// of the active variant land in Additional.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var generic metadataFields
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = Metadata{
		Language:           generic.Language,
		Date:               generic.Date,
		Subject:            generic.Subject,
		QualityScore:       generic.QualityScore,
		ImagePreprocessing: generic.ImagePreprocessing,
		Error:              generic.Error,
	}
	known := jsonKeys(reflect.TypeOf(generic))

	if ft, ok := raw[formatTypeKey]; ok {
		var t string
		if err := json.Unmarshal(ft, &t); err != nil {
			return fmt.Errorf("metadata format_type: %w", err)
		}
		known[formatTypeKey] = true
		if p := newPayload(FormatType(t)); p != nil {
			if err := json.Unmarshal(data, p); err != nil {
				return fmt.Errorf("metadata %s: %w", t, err)
			}
			m.SetFormat(p)
			for k := range jsonKeys(reflect.TypeOf(p).Elem()) {
				known[k] = true
			}
		} else {
			// Unknown discriminator: keep it visible to callers.
			delete(known, formatTypeKey)
		}
	}

	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("metadata key %q: %w", k, err)
		}
		if m.Additional == nil {
			m.Additional = make(map[string]any)
		}
		m.Additional[k] = val
	}
	return nil
}

// jsonKeys lists the JSON object keys of a struct type.
func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		keys[name] = true
	}
	return keys
}

// Clone returns a copy of m whose maps and variant payload are not shared.
func (m Metadata) Clone() Metadata {
	out := m
	if m.QualityScore != nil {
		q := *m.QualityScore
		out.QualityScore = &q
	}
	if m.ImagePreprocessing != nil {
		ip := *m.ImagePreprocessing
		ip.Steps = append([]string(nil), ip.Steps...)
		out.ImagePreprocessing = &ip
	}
	if m.Error != nil {
		e := *m.Error
		out.Error = &e
	}
	if m.Additional != nil {
		out.Additional = make(map[string]any, len(m.Additional))
		for k, v := range m.Additional {
			out.Additional[k] = v
		}
	}
	// A JSON round trip gives a deep copy of whichever variant is set.
	if p := m.Format.payload(); p != nil {
		cp := newPayload(m.Format.Type)
		if raw, err := json.Marshal(p); err == nil && json.Unmarshal(raw, cp) == nil {
			out.SetFormat(cp)
		}
	}
	return out
}

// Set stores an extension key.
func (m *Metadata) Set(key string, value any) {
	if m.Additional == nil {
		m.Additional = make(map[string]any)
	}
	m.Additional[key] = value
}
