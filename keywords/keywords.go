// Package keywords extracts keywords and keyphrases with YAKE or RAKE.
//
// Both algorithms return document.Keyword values with scores in (0, 1],
// higher is better. YAKE's native score (lower is better) is reported as
// 1/(1+s); RAKE's is divided by the best phrase score.
package keywords

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

const (
	AlgorithmYAKE = "yake"
	AlgorithmRAKE = "rake"
)

// Extract runs the configured algorithm over text. cfg must have defaults
// applied.
func Extract(text string, cfg *config.KeywordConfig) ([]document.Keyword, error) {
	if cfg == nil {
		return nil, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var kws []document.Keyword
	switch strings.ToLower(cfg.Algorithm) {
	case AlgorithmYAKE, "":
		kws = yake(text, cfg)
	case AlgorithmRAKE:
		kws = rake(text, cfg)
	default:
		return nil, docerr.Validation("unknown keyword algorithm %q", cfg.Algorithm)
	}
	return limit(kws, cfg), nil
}

func limit(kws []document.Keyword, cfg *config.KeywordConfig) []document.Keyword {
	sort.SliceStable(kws, func(i, j int) bool {
		if kws[i].Score != kws[j].Score {
			return kws[i].Score > kws[j].Score
		}
		return kws[i].Text < kws[j].Text
	})
	out := kws[:0]
	for _, k := range kws {
		if k.Score < cfg.MinScore {
			continue
		}
		out = append(out, k)
		if cfg.MaxKeywords > 0 && len(out) == cfg.MaxKeywords {
			break
		}
	}
	return out
}

// token is one word with its position in the text.
type token struct {
	text     string // as written
	lower    string
	offset   int // rune offset
	sentence int
	// boundary is true when punctuation separates this token from the
	// previous one. Candidates never span a boundary.
	boundary bool
}

// tokenize splits text into word tokens, tracking sentences and
// punctuation boundaries.
func tokenize(text string) []token {
	var out []token
	var cur []rune
	start := 0
	sentence := 0
	boundary := true
	pos := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		w := strings.Trim(string(cur), "'-")
		if w != "" {
			out = append(out, token{
				text:     w,
				lower:    strings.ToLower(w),
				offset:   start,
				sentence: sentence,
				boundary: boundary,
			})
			boundary = false
		}
		cur = cur[:0]
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || ((r == '\'' || r == '-') && len(cur) > 0):
			if len(cur) == 0 {
				start = pos
			}
			cur = append(cur, r)
		case unicode.IsSpace(r):
			flush()
			if r == '\n' {
				boundary = true
			}
		default:
			flush()
			boundary = true
			if r == '.' || r == '!' || r == '?' || r == ';' {
				sentence++
			}
		}
		pos++
	}
	flush()
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return s != ""
}

func usable(t token, stop map[string]bool, minLen int) bool {
	if stop[t.lower] || isNumber(t.lower) {
		return false
	}
	return len([]rune(t.lower)) >= minLen
}
