package keywords

import (
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/stopwords"
)

// rake splits text into candidate phrases at stopwords and punctuation and
// scores each phrase as the sum of its words' degree/frequency.
func rake(text string, cfg *config.KeywordConfig) []document.Keyword {
	stop := stopwords.For(cfg.Language)
	toks := tokenize(text)

	type phrase struct {
		words  []string
		offset int
	}
	var phrases []phrase
	var cur phrase
	flush := func() {
		if len(cur.words) > 0 && len(cur.words) <= cfg.MaxWordsPerPhrase {
			phrases = append(phrases, cur)
		}
		cur = phrase{}
	}
	for _, t := range toks {
		if t.boundary {
			flush()
		}
		if !usable(t, stop, cfg.MinWordLength) {
			flush()
			continue
		}
		if len(cur.words) == 0 {
			cur.offset = t.offset
		}
		cur.words = append(cur.words, t.lower)
	}
	flush()

	freq := map[string]float64{}
	degree := map[string]float64{}
	for _, p := range phrases {
		for _, w := range p.words {
			freq[w]++
			degree[w] += float64(len(p.words))
		}
	}

	type agg struct {
		score     float64
		positions []int
	}
	byText := map[string]*agg{}
	var order []string
	best := 0.0
	for _, p := range phrases {
		n := len(p.words)
		if n < cfg.NgramRange[0] || (cfg.NgramRange[1] > 0 && n > cfg.NgramRange[1]) {
			continue
		}
		key := strings.Join(p.words, " ")
		a := byText[key]
		if a == nil {
			a = &agg{}
			for _, w := range p.words {
				a.score += degree[w] / freq[w]
			}
			byText[key] = a
			order = append(order, key)
			if a.score > best {
				best = a.score
			}
		}
		a.positions = append(a.positions, p.offset)
	}

	out := make([]document.Keyword, 0, len(order))
	for _, key := range order {
		a := byText[key]
		out = append(out, document.Keyword{
			Text:      key,
			Score:     a.score / best,
			Algorithm: AlgorithmRAKE,
			Positions: a.positions,
		})
	}
	return out
}
