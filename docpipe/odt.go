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

// parseODT reads content.xml of an OpenDocument text: outline headings,
// paragraphs, list items and tables. meta.xml supplies title and authors.
func parseODT(_ context.Context, data []byte, _ string, cfg *config.ExtractionConfig) (*parsed, error) {
	zr, err := openZip(data, "odt")
	if err != nil {
		return nil, err
	}
	content, err := readZipPart(zr, "content.xml")
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, docerr.Parsing("odt: content.xml not found in archive")
	}

	w := &odtWalker{}
	if err := walkXML(content, w.token); err != nil {
		return nil, docerr.Ensure(err, docerr.KindParsing).WithStage("odt")
	}
	w.flushList()

	p := &parsed{sections: w.sections}
	props := readCoreProps(zr, "meta.xml")
	props.apply(&p.meta)
	p.title = strings.TrimSpace(props.Title)
	if p.title == "" {
		p.title = w.title
	}
	if cfg.Images.ExtractImagesEnabled() {
		if p.images, err = zipImages(zr, "Pictures/"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type odtWalker struct {
	sections []document.Section
	title    string
	list     []string

	text         strings.Builder
	inHeading    bool
	headingLevel int
	inParagraph  bool
	listDepth    int

	tableDepth int
	rows       [][]string
	row        []string
	cell       []string
}

func (w *odtWalker) token(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "h": // <text:h>
			w.inHeading = true
			w.text.Reset()
			w.headingLevel = 1
			if v, ok := xmlAttr(t, "outline-level"); ok {
				if n, err := strconv.Atoi(v); err == nil {
					w.headingLevel = min(max(n, 1), 6)
				}
			}
		case "p": // <text:p>
			if !w.inParagraph && !w.inHeading {
				w.text.Reset()
			}
			w.inParagraph = true
		case "list":
			w.listDepth++
		case "s": // <text:s text:c="3"/> is a run of spaces
			if w.inParagraph || w.inHeading {
				n := 1
				if v, ok := xmlAttr(t, "c"); ok {
					if c, err := strconv.Atoi(v); err == nil && c > 0 && c < 1000 {
						n = c
					}
				}
				w.text.WriteString(strings.Repeat(" ", n))
			}
		case "tab":
			if w.inParagraph || w.inHeading {
				w.text.WriteByte('\t')
			}
		case "line-break":
			if w.inParagraph || w.inHeading {
				w.text.WriteByte('\n')
			}
		case "table":
			if w.tableDepth == 0 {
				w.flushList()
				w.rows = nil
			}
			w.tableDepth++
		case "table-row":
			if w.tableDepth == 1 {
				w.row = nil
			}
		case "table-cell":
			if w.tableDepth == 1 {
				w.cell = nil
			}
		}

	case xml.CharData:
		if w.inHeading || w.inParagraph {
			w.text.Write(t)
		}

	case xml.EndElement:
		switch t.Name.Local {
		case "h":
			if !w.inHeading {
				return nil
			}
			w.inHeading = false
			text := strings.TrimSpace(w.text.String())
			if text == "" {
				return nil
			}
			w.flushList()
			if w.title == "" {
				w.title = text
			}
			w.sections = append(w.sections, document.Section{
				Title: text,
				Level: w.headingLevel,
				Text:  text,
				Type:  typeHeading,
			})

		case "p":
			if !w.inParagraph {
				return nil
			}
			w.inParagraph = false
			text := strings.TrimSpace(w.text.String())
			if text == "" {
				return nil
			}
			switch {
			case w.tableDepth > 0:
				w.cell = append(w.cell, strings.Join(strings.Fields(text), " "))
			case w.listDepth > 0:
				w.list = append(w.list, text)
			default:
				w.flushList()
				w.sections = append(w.sections, document.Section{Text: text, Type: typeParagraph})
			}

		case "list":
			w.listDepth--
			if w.listDepth == 0 {
				w.flushList()
			}
		case "table-cell":
			if w.tableDepth == 1 {
				w.row = append(w.row, strings.Join(w.cell, " "))
			}
		case "table-row":
			if w.tableDepth == 1 && len(w.row) > 0 {
				w.rows = append(w.rows, w.row)
			}
		case "table":
			w.tableDepth--
			if w.tableDepth == 0 && len(w.rows) > 0 {
				w.sections = append(w.sections, document.Section{Type: typeTable, Table: w.rows})
				w.rows = nil
			}
		}
	}
	return nil
}

func (w *odtWalker) flushList() {
	if len(w.list) > 0 {
		w.sections = append(w.sections, document.Section{Text: strings.Join(w.list, "\n"), Type: typeList})
		w.list = nil
	}
}
