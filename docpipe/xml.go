package docpipe

import (
	"context"
	"encoding/xml"
	"slices"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

// parseXML keeps the character data of a generic XML document, one
// paragraph per child of the root element, and counts its elements.
func parseXML(_ context.Context, data []byte, _ string, _ *config.ExtractionConfig) (*parsed, error) {
	var (
		sections []document.Section
		lines    []string
		count    int
		depth    int
	)
	unique := map[string]bool{}
	flush := func() {
		if len(lines) > 0 {
			sections = append(sections, document.Section{Text: strings.Join(lines, "\n"), Type: typeParagraph})
			lines = nil
		}
	}

	err := walkXML(data, func(tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			count++
			unique[qualified(t.Name)] = true
		case xml.EndElement:
			depth--
			if depth <= 1 {
				flush()
			}
		case xml.CharData:
			if text := strings.Join(strings.Fields(string(t)), " "); text != "" {
				lines = append(lines, text)
			}
		}
		return nil
	})
	if err != nil {
		return nil, docerr.Ensure(err, docerr.KindParsing).WithStage("xml")
	}
	flush()
	if count == 0 {
		return nil, docerr.Parsing("xml: no elements")
	}

	meta := &document.XMLMetadata{ElementCount: count}
	for name := range unique {
		meta.UniqueElements = append(meta.UniqueElements, name)
	}
	slices.Sort(meta.UniqueElements)
	p := &parsed{sections: sections}
	p.meta.SetFormat(meta)
	return p, nil
}

// qualified renders a name with its namespace prefix when the decoder
// could not resolve it, else the local name.
func qualified(n xml.Name) string {
	if n.Space != "" && !strings.Contains(n.Space, ":") && !strings.Contains(n.Space, "/") {
		return n.Space + ":" + n.Local
	}
	return n.Local
}
