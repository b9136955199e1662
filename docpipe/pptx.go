package docpipe

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// parsePPTX reads slides in presentation order. Title placeholders become
// headings, other shapes paragraphs or lists, and graphic-frame tables
// tables. Each slide is a page.
func parsePPTX(ctx context.Context, data []byte, _ string, cfg *config.ExtractionConfig) (*parsed, error) {
	zr, err := openZip(data, "pptx")
	if err != nil {
		return nil, err
	}
	slides := slideOrder(zr)
	if len(slides) == 0 {
		return nil, docerr.Parsing("pptx: no slides in archive")
	}

	fonts := map[string]bool{}
	p := &parsed{pages: len(slides)}
	for i, path := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := readZipPart(zr, path)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		w := &slideWalker{page: i + 1, fonts: fonts}
		if err := walkXML(raw, w.token); err != nil {
			return nil, docerr.Ensure(err, docerr.KindParsing).WithStage("pptx: " + path)
		}
		p.sections = append(p.sections, w.sections...)
	}

	props := readCoreProps(zr, "docProps/core.xml")
	props.apply(&p.meta)
	meta := &document.PPTXMetadata{
		Title:       strings.TrimSpace(props.Title),
		Author:      firstNonEmpty(props.Creator, props.LastModifiedBy),
		Description: strings.TrimSpace(props.Description),
		SlideCount:  len(slides),
	}
	for f := range fonts {
		meta.Fonts = append(meta.Fonts, f)
	}
	slices.Sort(meta.Fonts)
	p.meta.SetFormat(meta)

	p.title = meta.Title
	if p.title == "" {
		for _, s := range p.sections {
			if s.Type == typeHeading {
				p.title = s.Text
				break
			}
		}
	}
	if cfg.Images.ExtractImagesEnabled() {
		if p.images, err = zipImages(zr, "ppt/media/"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// slideOrder resolves the slide list of ppt/presentation.xml through its
// relationships, falling back to slideN.xml in numeric order.
func slideOrder(zr *zip.Reader) []string {
	raw, _ := readZipPart(zr, "ppt/presentation.xml")
	var pres struct {
		IDs []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}
	if raw != nil && xml.Unmarshal(raw, &pres) == nil && len(pres.IDs) > 0 {
		rels := relTargets(zr, "ppt/_rels/presentation.xml.rels", "ppt")
		var out []string
		for _, id := range pres.IDs {
			if target, ok := rels[id.RID]; ok {
				out = append(out, target)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	type numbered struct {
		n    int
		path string
	}
	var found []numbered
	for _, f := range zr.File {
		rest, ok := strings.CutPrefix(f.Name, "ppt/slides/slide")
		if !ok || !strings.HasSuffix(rest, ".xml") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSuffix(rest, ".xml")); err == nil {
			found = append(found, numbered{n, f.Name})
		}
	}
	slices.SortFunc(found, func(a, b numbered) int { return a.n - b.n })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out
}

// slideWalker collects the text of one slide.
type slideWalker struct {
	page     int
	fonts    map[string]bool
	sections []document.Section

	inShape  bool
	isTitle  bool
	paras    []string
	bullets  int
	para     strings.Builder
	inText   bool
	maxSize  float64
	allBold  bool
	runBold  bool
	runSize  float64
	hasRun   bool
	inTable  int
	rows     [][]string
	row      []string
	cellText []string
}

func (w *slideWalker) token(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "sp":
			w.inShape, w.isTitle = true, false
			w.paras, w.bullets = nil, 0
			w.maxSize, w.allBold, w.hasRun = 0, true, false
		case "ph":
			if typ, _ := xmlAttr(t, "type"); typ == "title" || typ == "ctrTitle" {
				w.isTitle = true
			}
		case "tbl":
			w.inTable++
			if w.inTable == 1 {
				w.rows = nil
			}
		case "tr":
			w.row = nil
		case "tc":
			w.cellText = nil
		case "p":
			w.para.Reset()
		case "buChar", "buAutoNum":
			if w.inShape && !w.isTitle {
				w.bullets++
			}
		case "rPr":
			if v, ok := xmlAttr(t, "b"); ok {
				w.runBold = v == "1" || v == "true"
			}
			if v, ok := xmlAttr(t, "sz"); ok {
				if n, err := strconv.Atoi(v); err == nil {
					// Hundredths of a point.
					w.runSize = float64(n) / 100
				}
			}
		case "r":
			w.runBold, w.runSize = false, 0
		case "latin", "ea", "cs":
			if face, ok := xmlAttr(t, "typeface"); ok && face != "" && !strings.HasPrefix(face, "+") {
				w.fonts[face] = true
			}
		case "t":
			w.inText = true
		case "br":
			w.para.WriteByte('\n')
		}

	case xml.CharData:
		if !w.inText {
			return nil
		}
		if strings.TrimSpace(string(t)) != "" {
			w.hasRun = true
			w.allBold = w.allBold && w.runBold
			w.maxSize = max(w.maxSize, w.runSize)
		}
		w.para.Write(t)

	case xml.EndElement:
		switch t.Name.Local {
		case "t":
			w.inText = false
		case "p":
			text := strings.TrimSpace(w.para.String())
			if text == "" {
				return nil
			}
			switch {
			case w.inTable > 0:
				w.cellText = append(w.cellText, text)
			case w.inShape:
				w.paras = append(w.paras, text)
			}
		case "tc":
			if w.inTable == 1 {
				w.row = append(w.row, strings.Join(w.cellText, " "))
			}
		case "tr":
			if w.inTable == 1 && len(w.row) > 0 {
				w.rows = append(w.rows, w.row)
			}
		case "tbl":
			w.inTable--
			if w.inTable == 0 && len(w.rows) > 0 {
				w.sections = append(w.sections, document.Section{Type: typeTable, Table: w.rows, Page: w.page})
			}
		case "sp":
			w.endShape()
			w.inShape = false
		}
	}
	return nil
}

func (w *slideWalker) endShape() {
	if len(w.paras) == 0 {
		return
	}
	meta := map[string]string{}
	if w.hasRun && w.allBold {
		meta["bold"] = "true"
	}
	switch {
	case w.isTitle:
		text := strings.Join(w.paras, " ")
		w.sections = append(w.sections, document.Section{
			Title:    text,
			Text:     text,
			Level:    2,
			Type:     typeHeading,
			Page:     w.page,
			FontSize: w.maxSize,
			Metadata: meta,
		})
	case w.bullets > 0 || len(w.paras) > 1:
		w.sections = append(w.sections, document.Section{
			Text:     strings.Join(w.paras, "\n"),
			Type:     typeList,
			Page:     w.page,
			FontSize: w.maxSize,
			Metadata: meta,
		})
	default:
		w.sections = append(w.sections, document.Section{
			Text:     w.paras[0],
			Type:     typeParagraph,
			Page:     w.page,
			FontSize: w.maxSize,
			Metadata: meta,
		})
	}
}
