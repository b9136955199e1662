package docpipe

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// parseDocx reads word/document.xml: styled headings, list paragraphs,
// tables, and run formatting (bold, font size). Core properties supply the
// title and authors.
func parseDocx(_ context.Context, data []byte, _ string, cfg *config.ExtractionConfig) (*parsed, error) {
	zr, err := openZip(data, "docx")
	if err != nil {
		return nil, err
	}
	body, err := readZipPart(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, docerr.Parsing("docx: word/document.xml not found in archive")
	}

	w := &docxWalker{}
	if err := walkXML(body, w.token); err != nil {
		return nil, docerr.Ensure(err, docerr.KindParsing).WithStage("docx")
	}
	w.flushList()

	p := &parsed{sections: w.sections}
	props := readCoreProps(zr, "docProps/core.xml")
	props.apply(&p.meta)
	p.title = strings.TrimSpace(props.Title)
	if p.title == "" {
		p.title = w.title
	}
	if cfg.Images.ExtractImagesEnabled() {
		if p.images, err = zipImages(zr, "word/media/"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// docxWalker is the token state machine for WordprocessingML bodies.
type docxWalker struct {
	sections []document.Section
	title    string
	list     []string

	text      strings.Builder
	inPara    bool
	style     string
	numbered  bool
	runBold   bool
	runSize   float64
	allBold   bool
	hasRun    bool
	maxSize   float64
	inRunProp bool
	inText    bool

	// Table state; tables nest, cells of inner tables flatten into the
	// enclosing cell.
	tableDepth int
	rows       [][]string
	row        []string
	cell       []string
}

func (w *docxWalker) token(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "tbl":
			if w.tableDepth == 0 {
				w.flushList()
				w.rows = nil
			}
			w.tableDepth++
		case "tr":
			if w.tableDepth == 1 {
				w.row = nil
			}
		case "tc":
			if w.tableDepth == 1 {
				w.cell = nil
			}
		case "p":
			w.inPara = true
			w.text.Reset()
			w.style, w.numbered = "", false
			w.allBold, w.hasRun, w.maxSize = true, false, 0
		case "pStyle":
			if v, ok := xmlAttr(t, "val"); ok && w.inPara {
				w.style = v
			}
		case "numPr":
			w.numbered = true
		case "r":
			w.runBold, w.runSize = false, 0
		case "rPr":
			w.inRunProp = true
		case "t":
			w.inText = true
		case "b":
			if w.inRunProp {
				v, _ := xmlAttr(t, "val")
				w.runBold = v == "" || v == "1" || v == "true" || v == "on"
			}
		case "sz":
			if w.inRunProp {
				if v, ok := xmlAttr(t, "val"); ok {
					if n, err := strconv.Atoi(v); err == nil {
						// Half-points.
						w.runSize = float64(n) / 2
					}
				}
			}
		case "tab":
			if w.inPara && !w.inRunProp {
				w.text.WriteByte('\t')
			}
		case "br", "cr":
			if w.inPara {
				w.text.WriteByte('\n')
			}
		}

	case xml.CharData:
		if !w.inPara || !w.inText {
			return nil
		}
		if len(strings.TrimSpace(string(t))) > 0 {
			w.hasRun = true
			w.allBold = w.allBold && w.runBold
			w.maxSize = max(w.maxSize, w.runSize)
		}
		w.text.Write(t)

	case xml.EndElement:
		switch t.Name.Local {
		case "rPr":
			w.inRunProp = false
		case "t":
			w.inText = false
		case "p":
			if w.inPara {
				w.inPara = false
				w.endParagraph()
			}
		case "tc":
			if w.tableDepth == 1 {
				w.row = append(w.row, strings.Join(w.cell, " "))
			}
		case "tr":
			if w.tableDepth == 1 && len(w.row) > 0 {
				w.rows = append(w.rows, w.row)
			}
		case "tbl":
			w.tableDepth--
			if w.tableDepth == 0 && len(w.rows) > 0 {
				w.sections = append(w.sections, document.Section{Type: typeTable, Table: w.rows})
				w.rows = nil
			}
		}
	}
	return nil
}

func (w *docxWalker) endParagraph() {
	text := strings.TrimSpace(w.text.String())
	if text == "" {
		return
	}
	if w.tableDepth > 0 {
		w.cell = append(w.cell, strings.Join(strings.Fields(text), " "))
		return
	}

	level := docxHeadingLevel(w.style)
	if level == 0 && (w.numbered || strings.HasPrefix(strings.ToLower(w.style), "list")) {
		w.list = append(w.list, text)
		return
	}
	w.flushList()

	meta := map[string]string{}
	if w.hasRun && w.allBold {
		meta["bold"] = "true"
	}
	if w.style != "" {
		meta["style"] = w.style
	}
	s := document.Section{Text: text, Type: typeParagraph, FontSize: w.maxSize, Metadata: meta}
	if level > 0 {
		if w.title == "" {
			w.title = text
		}
		s.Title, s.Level, s.Type = text, level, typeHeading
	}
	w.sections = append(w.sections, s)
}

func (w *docxWalker) flushList() {
	if len(w.list) > 0 {
		w.sections = append(w.sections, document.Section{Text: strings.Join(w.list, "\n"), Type: typeList})
		w.list = nil
	}
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(strings.ReplaceAll(style, " ", ""))

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	// "Heading1", "heading1", "Titre1", etc.
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}
