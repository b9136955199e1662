package config

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hazyhaar/docextract/docerr"
)

// ToJSON serializes the config as given, without defaults.
func (c *ExtractionConfig) ToJSON() ([]byte, error) {
	if c == nil {
		c = New()
	}
	return json.Marshal(c)
}

// FromJSON parses a JSON config. Unknown fields are rejected.
func FromJSON(data []byte) (*ExtractionConfig, error) {
	cfg := &ExtractionConfig{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, docerr.Wrap(docerr.KindConfig, err, "invalid JSON config")
	}
	return cfg, nil
}

// Canonical returns the order-independent form used in cache fingerprints:
// defaults applied, cache toggle, concurrency cap and timeout dropped, keys
// sorted. Two configs that extract the same way produce the same bytes.
func (c *ExtractionConfig) Canonical() []byte {
	d := c.WithDefaults()
	d.UseCache = nil
	d.MaxConcurrentExtractions = 0
	d.Timeout = 0

	m, err := toMap(d)
	if err != nil {
		panic("config: canonical: " + err.Error())
	}
	// encoding/json sorts map keys, which gives the field-order independence.
	out, err := json.Marshal(m)
	if err != nil {
		panic("config: canonical: " + err.Error())
	}
	return out
}

func toMap(c *ExtractionConfig) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetField returns the value at a dot-separated JSON path of the config with
// defaults applied, e.g. "chunking.max_chars" or "keywords.ngram_range.1".
func (c *ExtractionConfig) GetField(path string) (any, error) {
	if path == "" {
		return nil, docerr.Validation("empty field path")
	}
	m, err := toMap(c.WithDefaults())
	if err != nil {
		return nil, docerr.Wrap(docerr.KindInternal, err, "config to map")
	}
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, docerr.NotFound("config field %q", path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, docerr.NotFound("config field %q", path)
			}
			cur = node[i]
		default:
			return nil, docerr.NotFound("config field %q", path)
		}
	}
	return cur, nil
}

// Merge returns a shallow merge of c and other: every top-level field set in
// other replaces the one in c. Neither input is modified.
func (c *ExtractionConfig) Merge(other *ExtractionConfig) *ExtractionConfig {
	if other == nil {
		return c.Clone()
	}
	base, err := toMap(c.Clone())
	if err != nil {
		panic("config: merge: " + err.Error())
	}
	over, err := toMap(other)
	if err != nil {
		panic("config: merge: " + err.Error())
	}
	for k, v := range over {
		base[k] = v
	}
	raw, _ := json.Marshal(base)
	out := &ExtractionConfig{}
	_ = json.Unmarshal(raw, out)
	return out
}
