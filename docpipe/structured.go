package docpipe

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

// maxStructuredDepth bounds nesting of JSON and YAML values.
const maxStructuredDepth = 64

// parseStructured handles JSON, YAML, CSV and TSV. Delimited files become
// one table; JSON and YAML become one paragraph of "path: value" lines per
// top-level entry.
func parseStructured(_ context.Context, data []byte, mime string, _ *config.ExtractionConfig) (*parsed, error) {
	switch mime {
	case mimes.CSV, mimes.TSV:
		return parseDelimited(data, mime == mimes.TSV)
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	var root any
	switch mime {
	case mimes.JSON:
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&root); err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "json: decode")
		}
	default:
		if err := yaml.Unmarshal([]byte(text), &root); err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "yaml: decode")
		}
	}

	p := &parsed{}
	var fields []string
	add := func(key string, v any) error {
		var lines []string
		if err := flatten(key, v, 0, &lines); err != nil {
			return err
		}
		if len(lines) > 0 {
			p.sections = append(p.sections, document.Section{Text: strings.Join(lines, "\n"), Type: typeParagraph})
		}
		return nil
	}

	switch v := root.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			fields = append(fields, k)
			if err := add(k, v[k]); err != nil {
				return nil, err
			}
		}
		if title, ok := v["title"].(string); ok {
			p.title = strings.TrimSpace(title)
		}
	default:
		if err := add("", v); err != nil {
			return nil, err
		}
	}
	if len(fields) > 0 {
		p.meta.Set("fields", fields)
	}
	return p, nil
}

// flatten writes "a.b[0].c: value" lines for every scalar under v.
func flatten(prefix string, v any, depth int, out *[]string) error {
	if depth > maxStructuredDepth {
		return docerr.Parsing("structured: nesting depth exceeds %d", maxStructuredDepth)
	}
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch t := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if err := flatten(join(k), t[k], depth+1, out); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range t {
			if err := flatten(prefix+"["+strconv.Itoa(i)+"]", item, depth+1, out); err != nil {
				return err
			}
		}
	case nil:
	default:
		s := strings.TrimSpace(fmt.Sprint(t))
		if s == "" {
			return nil
		}
		if prefix == "" {
			*out = append(*out, s)
		} else {
			*out = append(*out, prefix+": "+s)
		}
	}
	return nil
}

func parseDelimited(data []byte, tabs bool) (*parsed, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader([]byte(text)))
	if tabs {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "csv: read")
		}
		rows = append(rows, rec)
	}
	p := &parsed{}
	if len(rows) > 0 {
		p.sections = []document.Section{{Type: typeTable, Table: rows}}
		p.meta.Set("columns", rows[0])
		p.meta.Set("row_count", len(rows))
	}
	return p, nil
}
