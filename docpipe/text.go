package docpipe

import (
	"context"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

// parseText splits plain text into paragraphs on blank lines. Line breaks
// inside a paragraph are kept.
func parseText(_ context.Context, data []byte, mime string, cfg *config.ExtractionConfig) (*parsed, error) {
	if mime == mimes.Markdown {
		return parseMarkdown(data)
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sections []document.Section
	for _, para := range splitParagraphs(text) {
		sections = append(sections, document.Section{Text: para, Type: typeParagraph})
	}
	p := &parsed{sections: sections}
	if len(sections) > 0 {
		p.title = firstLine(sections[0].Text)
	}
	return p, nil
}

func splitParagraphs(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// parseMarkdown extracts structured sections from Markdown: ATX headings,
// fenced code blocks, pipe tables, list runs and paragraphs.
func parseMarkdown(data []byte) (*parsed, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var sections []document.Section
	var title string
	var para, list, table []string

	flushParagraph := func() {
		if t := strings.TrimSpace(strings.Join(para, " ")); t != "" {
			sections = append(sections, document.Section{Text: t, Type: typeParagraph})
		}
		para = nil
	}
	flushList := func() {
		if len(list) > 0 {
			sections = append(sections, document.Section{Text: strings.Join(list, "\n"), Type: typeList})
		}
		list = nil
	}
	flushTable := func() {
		if len(table) > 0 {
			cells := parsePipeTable(table)
			sections = append(sections, document.Section{Text: strings.Join(table, "\n"), Type: typeTable, Table: cells})
		}
		table = nil
	}
	flushAll := func() {
		flushParagraph()
		flushList()
		flushTable()
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		// Fenced code block.
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			flushAll()
			fence := trimmed[:3]
			lang := strings.TrimSpace(trimmed[3:])
			var code []string
			for i++; i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), fence); i++ {
				code = append(code, lines[i])
			}
			sections = append(sections, document.Section{
				Text:     strings.Join(code, "\n"),
				Type:     typeCode,
				Metadata: map[string]string{"language": lang},
			})
			continue
		}

		// ATX headings: # heading, ## heading, etc.
		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for _, ch := range trimmed {
				if ch != '#' {
					break
				}
				level++
			}
			rest := trimmed[level:]
			if level <= 6 && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
				flushAll()
				headingText := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
				if headingText != "" {
					if title == "" {
						title = headingText
					}
					sections = append(sections, document.Section{
						Title: headingText,
						Level: level,
						Text:  headingText,
						Type:  typeHeading,
					})
				}
				continue
			}
		}

		// Empty line = block break.
		if trimmed == "" {
			flushAll()
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			flushParagraph()
			flushList()
			table = append(table, trimmed)
			continue
		}
		flushTable()

		if item, ok := listItem(trimmed); ok {
			flushParagraph()
			list = append(list, item)
			continue
		}
		flushList()
		para = append(para, trimmed)
	}
	flushAll()

	p := &parsed{title: title, sections: sections}
	if title == "" && len(sections) > 0 {
		p.title = firstLine(sections[0].Text)
	}
	return p, nil
}

// listItem strips a bullet ("- ", "* ", "+ ") or ordinal ("1. ", "2) ").
func listItem(line string) (string, bool) {
	for _, b := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(line, b) {
			return strings.TrimSpace(line[2:]), true
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:]), true
	}
	return "", false
}

// parsePipeTable turns "| a | b |" rows into cells, dropping the
// "|---|---|" delimiter row.
func parsePipeTable(rows []string) [][]string {
	var cells [][]string
	for _, row := range rows {
		row = strings.TrimSpace(row)
		row = strings.TrimPrefix(row, "|")
		row = strings.TrimSuffix(row, "|")
		parts := strings.Split(row, "|")
		delimiter := true
		for i, c := range parts {
			parts[i] = strings.TrimSpace(c)
			if strings.Trim(parts[i], ":-") != "" || parts[i] == "" {
				delimiter = false
			}
		}
		if delimiter {
			continue
		}
		cells = append(cells, parts)
	}
	return cells
}

// decodeText returns data as a string, rejecting binary input.
func decodeText(data []byte) (string, error) {
	if strings.IndexByte(string(data[:min(len(data), 8192)]), 0) >= 0 {
		return "", docerr.Parsing("input looks binary, not text")
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}
