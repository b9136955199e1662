package docpipe

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// parseXLSX turns every worksheet into a heading with the sheet name and a
// table of its used cell range.
func parseXLSX(ctx context.Context, data []byte, _ string, _ *config.ExtractionConfig) (*parsed, error) {
	zr, err := openZip(data, "xlsx")
	if err != nil {
		return nil, err
	}
	sheets, err := workbookSheets(zr)
	if err != nil {
		return nil, err
	}
	shared, err := sharedStrings(zr)
	if err != nil {
		return nil, err
	}

	meta := &document.ExcelMetadata{SheetCount: len(sheets)}
	p := &parsed{}
	for _, sh := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta.SheetNames = append(meta.SheetNames, sh.name)
		raw, err := readZipPart(zr, sh.path)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var ws worksheet
		if err := xml.Unmarshal(raw, &ws); err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "xlsx: sheet %q", sh.name)
		}
		grid := ws.grid(shared)
		if len(grid) == 0 {
			continue
		}
		p.sections = append(p.sections,
			document.Section{Title: sh.name, Text: sh.name, Level: 2, Type: typeHeading},
			document.Section{Type: typeTable, Table: grid, Metadata: map[string]string{"sheet": sh.name}},
		)
	}

	props := readCoreProps(zr, "docProps/core.xml")
	props.apply(&p.meta)
	p.title = strings.TrimSpace(props.Title)
	p.meta.SetFormat(meta)
	return p, nil
}

type sheetRef struct {
	name string
	path string
}

// workbookSheets lists sheets in workbook order. Without a readable
// workbook part it falls back to the worksheet files in name order.
func workbookSheets(zr *zip.Reader) ([]sheetRef, error) {
	raw, err := readZipPart(zr, "xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	var wb struct {
		Sheets []struct {
			Name string `xml:"name,attr"`
			RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sheets>sheet"`
	}
	if raw != nil && xml.Unmarshal(raw, &wb) == nil && len(wb.Sheets) > 0 {
		rels := relTargets(zr, "xl/_rels/workbook.xml.rels", "xl")
		out := make([]sheetRef, 0, len(wb.Sheets))
		for i, s := range wb.Sheets {
			target, ok := rels[s.RID]
			if !ok {
				target = "xl/worksheets/sheet" + strconv.Itoa(i+1) + ".xml"
			}
			out = append(out, sheetRef{name: s.Name, path: target})
		}
		return out, nil
	}

	var out []sheetRef
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			name := strings.TrimSuffix(strings.TrimPrefix(f.Name, "xl/worksheets/"), ".xml")
			out = append(out, sheetRef{name: name, path: f.Name})
		}
	}
	if len(out) == 0 {
		return nil, docerr.Parsing("xlsx: no worksheets in archive")
	}
	return out, nil
}

func sharedStrings(zr *zip.Reader) ([]string, error) {
	raw, err := readZipPart(zr, "xl/sharedStrings.xml")
	if err != nil || raw == nil {
		return nil, err
	}
	var ss struct {
		Items []struct {
			T string `xml:"t"`
			R []struct {
				T string `xml:"t"`
			} `xml:"r"`
		} `xml:"si"`
	}
	if err := xml.Unmarshal(raw, &ss); err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "xlsx: shared strings")
	}
	out := make([]string, len(ss.Items))
	for i, item := range ss.Items {
		if item.T != "" || len(item.R) == 0 {
			out[i] = item.T
			continue
		}
		// Rich text
		var b strings.Builder
		for _, run := range item.R {
			b.WriteString(run.T)
		}
		out[i] = b.String()
	}
	return out, nil
}

type worksheet struct {
	Rows []struct {
		R     int `xml:"r,attr"`
		Cells []struct {
			R      string `xml:"r,attr"` // A1 reference
			T      string `xml:"t,attr"` // s, str, inlineStr, b, e, n
			V      string `xml:"v"`
			Inline string `xml:"is>t"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// grid lays the cells out by reference, trimming empty trailing rows and
// columns.
func (ws *worksheet) grid(shared []string) [][]string {
	var rows [][]string
	width := 0
	for i, row := range ws.Rows {
		r := row.R - 1
		if r < 0 {
			r = i
		}
		if r > 1<<20 {
			continue
		}
		for len(rows) <= r {
			rows = append(rows, nil)
		}
		for j, c := range row.Cells {
			col := columnIndex(c.R)
			if col < 0 {
				col = j
			}
			if col > 1<<14 {
				continue
			}
			value := cellValue(c.T, c.V, c.Inline, shared)
			if value == "" {
				continue
			}
			for len(rows[r]) <= col {
				rows[r] = append(rows[r], "")
			}
			rows[r][col] = value
			width = max(width, col+1)
		}
	}

	// Drop leading and trailing empty rows, pad the rest.
	first, last := -1, -1
	for i, r := range rows {
		if len(r) > 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	out := rows[first : last+1]
	for i := range out {
		for len(out[i]) < width {
			out[i] = append(out[i], "")
		}
	}
	return out
}

func cellValue(typ, v, inline string, shared []string) string {
	switch typ {
	case "s":
		idx, err := strconv.Atoi(v)
		if err != nil || idx < 0 || idx >= len(shared) {
			return v
		}
		return shared[idx]
	case "inlineStr":
		return inline
	case "b":
		if v == "1" {
			return "TRUE"
		}
		return "FALSE"
	}
	return v
}

// columnIndex turns the letters of "BC12" into a zero-based column.
func columnIndex(ref string) int {
	col := 0
	n := 0
	for _, c := range ref {
		if c < 'A' || c > 'Z' {
			break
		}
		col = col*26 + int(c-'A'+1)
		n++
	}
	if n == 0 {
		return -1
	}
	return col - 1
}
