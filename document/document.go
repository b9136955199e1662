// Package document holds the data model returned by an extraction: the
// Result, its tables, chunks, images and the format-tagged Metadata union.
//
// A Result is owned by the caller once returned. Nothing in it references
// pooled buffers.
package document

// Result is the normalized output of one extraction.
type Result struct {
	Content           string           `json:"content"`
	MimeType          string           `json:"mime_type"`
	Metadata          Metadata         `json:"metadata"`
	Tables            []Table          `json:"tables"`
	DetectedLanguages []string         `json:"detected_languages,omitempty"`
	Chunks            []Chunk          `json:"chunks,omitempty"`
	Images            []ExtractedImage `json:"images,omitempty"`
	Keywords          []Keyword        `json:"keywords,omitempty"`
	Pages             []PageContent    `json:"pages,omitempty"`
	Elements          []Element        `json:"elements,omitempty"`

	// Blocks are the layout units the extractor saw, with font signals when
	// the format carries them. Hierarchy detection and chunking read them.
	Blocks []TextBlock `json:"blocks,omitempty"`
}

// Table is a detected table.
type Table struct {
	Cells      [][]string `json:"cells"`
	Markdown   string     `json:"markdown"`
	PageNumber int        `json:"page_number,omitempty"`
}

// Chunk is a slice of the result content plus its position.
type Chunk struct {
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkMetadata positions a chunk. CharStart and CharEnd are rune offsets
// into Result.Content, end exclusive.
type ChunkMetadata struct {
	CharStart   int    `json:"char_start"`
	CharEnd     int    `json:"char_end"`
	TokenCount  int    `json:"token_count"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	FirstPage   int    `json:"first_page,omitempty"`
	LastPage    int    `json:"last_page,omitempty"`
	Heading     string `json:"heading,omitempty"`
}

// ExtractedImage is an image found inside a document.
type ExtractedImage struct {
	Data             []byte  `json:"data"`
	Format           string  `json:"format"`
	ImageIndex       int     `json:"image_index"`
	PageNumber       int     `json:"page_number,omitempty"`
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	Colorspace       string  `json:"colorspace,omitempty"`
	BitsPerComponent int     `json:"bits_per_component,omitempty"`
	IsMask           bool    `json:"is_mask"`
	OCRResult        *Result `json:"ocr_result,omitempty"`
}

// Keyword is one extracted keyword or keyphrase. Higher Score is better for
// every algorithm.
type Keyword struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Algorithm string  `json:"algorithm"`
	Positions []int   `json:"positions,omitempty"`
}

// PageContent is the per-page view of a paged document.
type PageContent struct {
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	Tables     []Table `json:"tables,omitempty"`
	ImageCount int     `json:"image_count,omitempty"`
}

// Element is one semantic unit of the element_based result format.
type Element struct {
	ElementID   string            `json:"element_id"`
	ElementType string            `json:"element_type"` // title, heading, paragraph, table, list_item, page_break
	Text        string            `json:"text"`
	Level       int               `json:"level,omitempty"`
	PageNumber  int               `json:"page_number,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TextBlock is a layout unit. FontSize is 0 when the format has no font
// information. Level is the structural heading level reported by the format
// (0 for body). HierarchyLevel is filled by hierarchy detection ("h1".."h6"
// or "body").
type TextBlock struct {
	Text           string  `json:"text"`
	FontSize       float64 `json:"font_size,omitempty"`
	Bold           bool    `json:"bold,omitempty"`
	PageNumber     int     `json:"page_number,omitempty"`
	CharStart      int     `json:"char_start"`
	CharEnd        int     `json:"char_end"`
	Level          int     `json:"level,omitempty"`
	HierarchyLevel string  `json:"hierarchy_level,omitempty"`
	FromOCR        bool    `json:"from_ocr,omitempty"`
}

// IsHeading reports whether the block is a heading, either structurally or
// after hierarchy detection.
func (b TextBlock) IsHeading() bool {
	if b.Level > 0 {
		return true
	}
	return b.HierarchyLevel != "" && b.HierarchyLevel != "body"
}

// Section is the structural unit built-in extractors produce before the
// content string is assembled.
type Section struct {
	Title    string            `json:"title,omitempty"`
	Level    int               `json:"level"` // heading level 1-6, 0 for body
	Text     string            `json:"text"`
	Type     string            `json:"type"` // heading, paragraph, table, list, code
	Page     int               `json:"page,omitempty"`
	FontSize float64           `json:"font_size,omitempty"`
	Table    [][]string        `json:"table,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of r. Cached results are cloned on the way out
// so callers may mutate what they receive.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	if r.Tables != nil {
		out.Tables = make([]Table, len(r.Tables))
		for i, t := range r.Tables {
			out.Tables[i] = t.clone()
		}
	}
	out.DetectedLanguages = append([]string(nil), r.DetectedLanguages...)
	if r.Chunks != nil {
		out.Chunks = make([]Chunk, len(r.Chunks))
		for i, c := range r.Chunks {
			c.Embedding = append([]float32(nil), c.Embedding...)
			out.Chunks[i] = c
		}
	}
	if r.Images != nil {
		out.Images = make([]ExtractedImage, len(r.Images))
		for i, img := range r.Images {
			img.Data = append([]byte(nil), img.Data...)
			img.OCRResult = img.OCRResult.Clone()
			out.Images[i] = img
		}
	}
	if r.Keywords != nil {
		out.Keywords = make([]Keyword, len(r.Keywords))
		for i, k := range r.Keywords {
			k.Positions = append([]int(nil), k.Positions...)
			out.Keywords[i] = k
		}
	}
	if r.Pages != nil {
		out.Pages = make([]PageContent, len(r.Pages))
		for i, p := range r.Pages {
			if p.Tables != nil {
				tables := make([]Table, len(p.Tables))
				for j, t := range p.Tables {
					tables[j] = t.clone()
				}
				p.Tables = tables
			}
			out.Pages[i] = p
		}
	}
	if r.Elements != nil {
		out.Elements = make([]Element, len(r.Elements))
		for i, e := range r.Elements {
			e.Metadata = cloneStrings(e.Metadata)
			out.Elements[i] = e
		}
	}
	out.Blocks = append([]TextBlock(nil), r.Blocks...)
	return &out
}

func (t Table) clone() Table {
	if t.Cells != nil {
		cells := make([][]string, len(t.Cells))
		for i, row := range t.Cells {
			cells[i] = append([]string(nil), row...)
		}
		t.Cells = cells
	}
	return t
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
