package docpipe

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9.]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
	regexp.MustCompile(`(?i)position\s*:\s*absolute[^;]*-\d{4,}`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		switch {
		case a.Key == "hidden":
			return true
		case a.Key == "aria-hidden" && a.Val == "true":
			return true
		case a.Key == "style":
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val + ";") {
					return true
				}
			}
		}
	}
	return false
}

// parseHTML extracts headings, paragraphs, tables, lists and code from an
// HTML document, plus its head metadata. Boilerplate (nav, header, footer)
// and hidden elements are skipped.
func parseHTML(_ context.Context, data []byte, _ string, _ *config.ExtractionConfig) (*parsed, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "html: parse")
	}

	meta := &document.HTMLMetadata{}
	readHead(doc, meta)

	var sections []document.Section
	extractHTMLNodes(doc, &sections)

	if len(sections) == 0 {
		// Fallback: extract all text.
		if text := collectHTMLText(doc); text != "" {
			sections = append(sections, document.Section{Text: text, Type: typeParagraph})
		}
	}

	p := &parsed{title: meta.Title, sections: sections, html: string(data)}
	p.meta.SetFormat(meta)
	if p.title == "" {
		for _, s := range sections {
			if s.Type == typeHeading {
				p.title = s.Text
				break
			}
		}
	}
	return p, nil
}

// readHead fills m from <title>, <meta>, <link rel=canonical> and <base>.
func readHead(n *html.Node, m *document.HTMLMetadata) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Title:
			if m.Title == "" && n.FirstChild != nil {
				m.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		case atom.Base:
			m.BaseHref = attr(n, "href")
		case atom.Link:
			if strings.EqualFold(attr(n, "rel"), "canonical") {
				m.Canonical = attr(n, "href")
			}
		case atom.Meta:
			key := strings.ToLower(attr(n, "name"))
			if key == "" {
				key = strings.ToLower(attr(n, "property"))
			}
			val := strings.TrimSpace(attr(n, "content"))
			switch key {
			case "description":
				m.Description = val
			case "keywords":
				m.Keywords = val
			case "author":
				m.Author = val
			case "og:title":
				m.OGTitle = val
			case "og:description":
				m.OGDescription = val
			case "og:image":
				m.OGImage = val
			case "og:url":
				m.OGURL = val
			case "og:type":
				m.OGType = val
			case "og:site_name":
				m.OGSiteName = val
			case "twitter:card":
				m.TwitterCard = val
			case "twitter:title":
				m.TwitterTitle = val
			}
		case atom.Body:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		readHead(c, m)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// extractHTMLNodes walks the DOM tree and extracts headings and content blocks.
func extractHTMLNodes(n *html.Node, sections *[]document.Section) {
	if n.Type == html.ElementNode {
		// Skip boilerplate.
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header, atom.Template:
			return
		}
		if hasHiddenStyle(n) {
			return
		}

		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, document.Section{
					Title: text,
					Level: int(n.Data[1] - '0'),
					Text:  text,
					Type:  typeHeading,
				})
			}
			return

		case atom.P, atom.Blockquote, atom.Figcaption, atom.Dt, atom.Dd:
			if text := collectHTMLText(n); text != "" {
				*sections = append(*sections, document.Section{Text: text, Type: typeParagraph})
			}
			return

		case atom.Pre:
			if text := collectPreText(n); strings.TrimSpace(text) != "" {
				*sections = append(*sections, document.Section{
					Text:     text,
					Type:     typeCode,
					Metadata: map[string]string{"language": codeLanguage(n)},
				})
			}
			return

		case atom.Table:
			if cells := tableCells(n); len(cells) > 0 {
				*sections = append(*sections, document.Section{
					Text:  collectHTMLText(n),
					Type:  typeTable,
					Table: cells,
				})
			}
			return

		case atom.Ul, atom.Ol:
			var items []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Li && !hasHiddenStyle(c) {
					if text := collectHTMLText(c); text != "" {
						items = append(items, text)
					}
				}
			}
			if len(items) > 0 {
				*sections = append(*sections, document.Section{Text: strings.Join(items, "\n"), Type: typeList})
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractHTMLNodes(c, sections)
	}
}

// tableCells returns the rows of a table, th and td alike.
func tableCells(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Table:
				if n != table {
					return // nested tables are flattened into their cell text
				}
			case atom.Tr:
				var row []string
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
						row = append(row, collectHTMLText(c))
					}
				}
				if len(row) > 0 {
					rows = append(rows, row)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func collectPreText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Trim(sb.String(), "\n")
}

// codeLanguage reads "language-go" style classes on <pre> or its <code>.
func codeLanguage(pre *html.Node) string {
	nodes := []*html.Node{pre}
	if pre.FirstChild != nil {
		nodes = append(nodes, pre.FirstChild)
	}
	for _, n := range nodes {
		for _, cls := range strings.Fields(attr(n, "class")) {
			if lang, ok := strings.CutPrefix(cls, "language-"); ok {
				return lang
			}
		}
	}
	return ""
}

// collectHTMLText extracts all visible text from a node subtree.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(strings.Join(strings.Fields(text), " "))
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// htmlText is the visible text of an HTML fragment, used for HTML-only
// email bodies.
func htmlText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var sections []document.Section
	extractHTMLNodes(doc, &sections)
	if len(sections) == 0 {
		return collectHTMLText(doc)
	}
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = sectionPlain(s)
	}
	return strings.Join(parts, "\n\n")
}
