package docpipe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hazyhaar/docextract/bufpool"
	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/postproc"
)

// Section types produced by the parsers.
const (
	typeHeading   = "heading"
	typeParagraph = "paragraph"
	typeList      = "list"
	typeTable     = "table"
	typeCode      = "code"
)

// parsed is what a format parser hands to assemble.
type parsed struct {
	title    string
	sections []document.Section
	meta     document.Metadata
	images   []document.ExtractedImage
	// pages is the page (or slide) count of paged formats; sections then
	// carry their page number.
	pages int
	// html is the source markup of HTML-like inputs. Markdown and HTML
	// output render it whole instead of the sections.
	html string
	// ocr marks text recognized from images.
	ocr bool
}

// assemble renders p into a Result: content in the requested output
// format, layout blocks with rune offsets, tables, pages and, for the
// element_based result format, elements.
func assemble(p *parsed, mime string, cfg *config.ExtractionConfig) *document.Result {
	format := config.OutputPlain
	if cfg != nil && cfg.OutputFormat != "" {
		format = cfg.OutputFormat
	}
	r := &document.Result{
		MimeType: mime,
		Metadata: p.meta,
		Tables:   []document.Table{},
		Images:   p.images,
	}

	w := newContentWriter(p)
	defer w.release()

	var pageMarker string
	if cfg != nil && cfg.Pages != nil && cfg.Pages.InsertPageMarkers && p.pages > 0 {
		pageMarker = cfg.Pages.MarkerFormat
		if pageMarker == "" {
			pageMarker = config.DefaultPageMarker
		}
	}
	trackPages := cfg != nil && cfg.Pages != nil && cfg.Pages.ExtractPages && p.pages > 0

	var pages []document.PageContent
	var page *document.PageContent
	var pageText []string
	closePage := func() {
		if page == nil {
			return
		}
		page.Content = strings.Join(pageText, "\n\n")
		if page.CharEnd < page.CharStart {
			page.CharEnd = page.CharStart
		}
		pages = append(pages, *page)
		page, pageText = nil, nil
	}

	current := 0
	for _, s := range p.sections {
		if p.pages > 0 && s.Page > 0 && s.Page != current {
			closePage()
			current = s.Page
			if pageMarker != "" {
				w.marker(strings.ReplaceAll(pageMarker, "{page_num}", strconv.Itoa(s.Page)))
			}
			page = &document.PageContent{PageNumber: s.Page, CharStart: w.runes, CharEnd: w.runes}
		}

		plain := sectionPlain(s)
		if strings.TrimSpace(plain) == "" {
			continue
		}
		start, end := w.section(s, plain, format)

		level := 0
		if s.Type == typeHeading {
			level = s.Level
		}
		r.Blocks = append(r.Blocks, document.TextBlock{
			Text:       plain,
			FontSize:   s.FontSize,
			Bold:       s.Metadata["bold"] == "true",
			PageNumber: s.Page,
			CharStart:  start,
			CharEnd:    end,
			Level:      level,
			FromOCR:    p.ocr,
		})

		if s.Type == typeTable && len(s.Table) > 0 {
			t := document.Table{Cells: s.Table, Markdown: markdownTable(s.Table), PageNumber: s.Page}
			r.Tables = append(r.Tables, t)
			if page != nil {
				page.Tables = append(page.Tables, t)
			}
		}
		if page != nil {
			pageText = append(pageText, plain)
			page.CharEnd = end
		}
	}
	closePage()

	r.Content = w.finish(format)
	if w.whole {
		relocate(r.Content, r.Blocks)
	}

	if trackPages {
		for i := range pages {
			for _, img := range p.images {
				if img.PageNumber == pages[i].PageNumber {
					pages[i].ImageCount++
				}
			}
		}
		r.Pages = pages
	}
	if cfg != nil && cfg.ResultFormat == config.ResultElementBased {
		r.Elements = elements(p)
	}

	if r.Metadata.Format.Type == document.FormatUnknown {
		r.Metadata.SetFormat(textMetadata(r.Content, p.sections))
	}
	if p.title != "" {
		if _, ok := r.Metadata.Additional["title"]; !ok {
			r.Metadata.Set("title", p.title)
		}
	}
	return r
}

// contentWriter accumulates the content string and counts runes so block
// offsets are rune indices.
type contentWriter struct {
	b     *bufpool.Builder
	runes int
	// afterMarker suppresses the section separator right after a page
	// marker, which carries its own blank lines.
	afterMarker bool
	// whole is set when the output is rendered from p.html in one piece;
	// block offsets are then recomputed by relocate.
	whole bool
	src   *parsed
}

func newContentWriter(p *parsed) *contentWriter {
	n := 0
	for _, s := range p.sections {
		n += len(s.Text) + 4
	}
	return &contentWriter{b: bufpool.GetBuilder(n), src: p}
}

func (w *contentWriter) release() { w.b.Release() }

func (w *contentWriter) write(s string) {
	w.b.WriteString(s)
	w.runes += utf8.RuneCountInString(s)
}

func (w *contentWriter) marker(m string) {
	w.write(m)
	w.afterMarker = true
}

// section writes one section and returns the rune span of its text.
func (w *contentWriter) section(s document.Section, plain string, format config.OutputFormat) (int, int) {
	if w.b.Len() > 0 && !w.afterMarker {
		w.write("\n\n")
	}
	w.afterMarker = false

	rendered := plain
	switch format {
	case config.OutputMarkdown:
		rendered = sectionMarkdown(s, plain)
	case config.OutputDjot:
		rendered = sectionDjot(s, plain)
	case config.OutputHTML:
		rendered = sectionHTML(s, plain)
	}
	start := w.runes
	w.write(rendered)
	return start, w.runes
}

// finish returns the content. HTML-like sources in markdown, djot or html
// output are rendered from their markup instead of the sections.
func (w *contentWriter) finish(format config.OutputFormat) string {
	if w.src.html != "" {
		switch format {
		case config.OutputMarkdown, config.OutputDjot:
			if md, err := htmlToMarkdown(w.src.html); err == nil && strings.TrimSpace(md) != "" {
				w.whole = true
				if format == config.OutputDjot {
					return markdownToDjot(md)
				}
				return md
			}
		case config.OutputHTML:
			w.whole = true
			return sanitizeHTML(w.src.html)
		}
	}
	return w.b.String()
}

// relocate points blocks at their text inside content by forward search.
// A block whose text is not found gets an empty span at the cursor.
func relocate(content string, blocks []document.TextBlock) {
	byteCursor, runeCursor := 0, 0
	for i := range blocks {
		needle := firstLine(blocks[i].Text)
		idx := -1
		if needle != "" {
			idx = strings.Index(content[byteCursor:], needle)
		}
		if idx < 0 {
			blocks[i].CharStart, blocks[i].CharEnd = runeCursor, runeCursor
			continue
		}
		runeCursor += utf8.RuneCountInString(content[byteCursor : byteCursor+idx])
		byteCursor += idx
		blocks[i].CharStart = runeCursor
		blocks[i].CharEnd = runeCursor + utf8.RuneCountInString(needle)
	}
}

// sectionPlain is the plain-text rendering of s.
func sectionPlain(s document.Section) string {
	switch s.Type {
	case typeTable:
		if len(s.Table) == 0 {
			return s.Text
		}
		rows := make([]string, len(s.Table))
		for i, row := range s.Table {
			rows[i] = strings.Join(row, "\t")
		}
		return strings.Join(rows, "\n")
	case typeCode:
		return strings.Trim(s.Text, "\n")
	case typeList:
		lines := strings.Split(s.Text, "\n")
		out := lines[:0]
		for _, l := range lines {
			if l = postproc.Clean(l); l != "" {
				out = append(out, l)
			}
		}
		return strings.Join(out, "\n")
	}
	text := s.Text
	if text == "" {
		text = s.Title
	}
	return postproc.Clean(text)
}

func sectionMarkdown(s document.Section, plain string) string {
	switch s.Type {
	case typeHeading:
		level := min(max(s.Level, 1), 6)
		return strings.Repeat("#", level) + " " + plain
	case typeTable:
		if len(s.Table) > 0 {
			return markdownTable(s.Table)
		}
	case typeList:
		lines := strings.Split(plain, "\n")
		for i, l := range lines {
			lines[i] = "- " + l
		}
		return strings.Join(lines, "\n")
	case typeCode:
		return "```" + s.Metadata["language"] + "\n" + plain + "\n```"
	}
	return plain
}

// sectionDjot renders s in djot. Headings, lists, pipe tables and code
// fences share markdown syntax; only inline emphasis differs.
func sectionDjot(s document.Section, plain string) string {
	return markdownToDjot(sectionMarkdown(s, plain))
}

// markdownTable renders cells as a pipe table. The first row is the header.
func markdownTable(cells [][]string) string {
	if len(cells) == 0 {
		return ""
	}
	cols := 0
	for _, row := range cells {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteByte('|')
		for c := 0; c < cols; c++ {
			cell := ""
			if c < len(row) {
				cell = strings.ReplaceAll(strings.TrimSpace(row[c]), "|", `\|`)
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteByte('\n')
	}
	writeRow(cells[0])
	b.WriteByte('|')
	for c := 0; c < cols; c++ {
		b.WriteString(" --- |")
	}
	b.WriteByte('\n')
	for _, row := range cells[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// elements builds the element_based view of p.
func elements(p *parsed) []document.Element {
	var out []document.Element
	add := func(typ, text string, level, page int, meta map[string]string) {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d\x00%s\x00%s", len(out), typ, text)))
		out = append(out, document.Element{
			ElementID:   id.String(),
			ElementType: typ,
			Text:        text,
			Level:       level,
			PageNumber:  page,
			Metadata:    meta,
		})
	}

	titleSeen := false
	current := 0
	for _, s := range p.sections {
		if p.pages > 0 && s.Page > 0 && s.Page != current {
			if current != 0 {
				add("page_break", "", 0, s.Page, map[string]string{"from_page": strconv.Itoa(current)})
			}
			current = s.Page
		}
		plain := sectionPlain(s)
		switch s.Type {
		case typeHeading:
			if !titleSeen && s.Level <= 1 {
				titleSeen = true
				add("title", plain, 1, s.Page, nil)
				continue
			}
			add("heading", plain, s.Level, s.Page, nil)
		case typeList:
			for _, l := range strings.Split(plain, "\n") {
				add("list_item", l, 0, s.Page, nil)
			}
		case typeTable:
			meta := map[string]string{"rows": strconv.Itoa(len(s.Table))}
			if len(s.Table) > 0 {
				meta["cols"] = strconv.Itoa(len(s.Table[0]))
			}
			add("table", markdownTable(s.Table), 0, s.Page, meta)
		case typeCode:
			add("code_block", plain, 0, s.Page, s.Metadata)
		default:
			if plain != "" {
				add("paragraph", plain, 0, s.Page, nil)
			}
		}
	}
	return out
}

var linkRE = regexp.MustCompile(`\[([^\]\n]+)\]\(([^)\s]+)\)`)

// textMetadata computes the text payload for formats without their own.
func textMetadata(content string, sections []document.Section) *document.TextMetadata {
	m := &document.TextMetadata{
		CharacterCount: utf8.RuneCountInString(content),
		WordCount:      len(strings.Fields(content)),
	}
	if content != "" {
		m.LineCount = strings.Count(content, "\n") + 1
	}
	for _, s := range sections {
		switch s.Type {
		case typeHeading:
			m.Headers = append(m.Headers, sectionPlain(s))
		case typeCode:
			m.CodeBlocks = append(m.CodeBlocks, [2]string{s.Metadata["language"], s.Text})
		}
	}
	for _, l := range linkRE.FindAllStringSubmatch(content, -1) {
		m.Links = append(m.Links, [2]string{l[1], l[2]})
	}
	return m
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
