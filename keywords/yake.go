package keywords

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/stopwords"
)

type termStats struct {
	tf        float64
	upper     float64
	acronym   float64
	sentences map[int]bool
	left      map[string]int
	right     map[string]int
	positions []int
	score     float64
}

// yake scores single terms from casing, position, frequency, context
// relatedness and sentence spread, then combines them over n-gram
// candidates.
func yake(text string, cfg *config.KeywordConfig) []document.Keyword {
	toks := tokenize(text)
	if len(toks) == 0 {
		return nil
	}
	stop := stopwords.For(cfg.Language)
	window := cfg.WindowSize

	terms := map[string]*termStats{}
	get := func(w string) *termStats {
		ts := terms[w]
		if ts == nil {
			ts = &termStats{sentences: map[int]bool{}, left: map[string]int{}, right: map[string]int{}}
			terms[w] = ts
		}
		return ts
	}

	numSentences := toks[len(toks)-1].sentence + 1
	for i, t := range toks {
		ts := get(t.lower)
		ts.tf++
		ts.sentences[t.sentence] = true
		ts.positions = append(ts.positions, t.sentence)

		runes := []rune(t.text)
		if len(runes) > 1 && isAcronym(runes) {
			ts.acronym++
		} else if unicode.IsUpper(runes[0]) && i > 0 && toks[i-1].sentence == t.sentence {
			ts.upper++
		}

		// Co-occurrence inside the window, within the same sentence.
		for j := i - 1; j >= 0 && j >= i-window; j-- {
			if toks[j].sentence != t.sentence {
				break
			}
			if stop[toks[j].lower] {
				continue
			}
			ts.left[toks[j].lower]++
			get(toks[j].lower).right[t.lower]++
		}
	}

	// Frequency statistics over non-stopword terms.
	var tfs []float64
	maxTF := 0.0
	for w, ts := range terms {
		if stop[w] {
			continue
		}
		tfs = append(tfs, ts.tf)
		if ts.tf > maxTF {
			maxTF = ts.tf
		}
	}
	meanTF, stdTF := meanStd(tfs)

	for w, ts := range terms {
		if stop[w] {
			ts.score = 1
			continue
		}
		tCase := math.Max(ts.upper, ts.acronym) / (1 + math.Log(ts.tf))
		tPos := math.Log(math.Log(3 + median(ts.positions)))
		tFreq := ts.tf / (meanTF + stdTF)
		tRel := 1 + (dispersion(ts.left)+dispersion(ts.right))*(ts.tf/maxTF)
		tSent := float64(len(ts.sentences)) / float64(numSentences)
		ts.score = (tRel * tPos) / (tCase + tFreq/tRel + tSent/tRel)
	}

	// Candidates: n-grams inside punctuation boundaries that neither start
	// nor end with a stopword.
	type cand struct {
		text      string
		words     []string
		positions []int
		tf        float64
	}
	cands := map[string]*cand{}
	var order []string
	minN, maxN := cfg.NgramRange[0], cfg.NgramRange[1]
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		maxN = minN
	}
	for i := range toks {
		for n := minN; n <= maxN && i+n <= len(toks); n++ {
			span := toks[i : i+n]
			if !validSpan(span, stop, cfg.MinWordLength) {
				continue
			}
			words := make([]string, n)
			for k, t := range span {
				words[k] = t.lower
			}
			key := strings.Join(words, " ")
			c := cands[key]
			if c == nil {
				c = &cand{text: key, words: words}
				cands[key] = c
				order = append(order, key)
			}
			c.tf++
			c.positions = append(c.positions, span[0].offset)
		}
	}

	var scored []document.Keyword
	for _, key := range order {
		c := cands[key]
		prod, sum := 1.0, 0.0
		for _, w := range c.words {
			s := terms[w].score
			if stop[w] {
				continue
			}
			prod *= s
			sum += s
		}
		s := prod / (c.tf * (1 + sum))
		scored = append(scored, document.Keyword{
			Text:      c.text,
			Score:     1 / (1 + s),
			Algorithm: AlgorithmYAKE,
			Positions: c.positions,
		})
	}
	return dedupe(scored)
}

func validSpan(span []token, stop map[string]bool, minLen int) bool {
	for k, t := range span {
		if k > 0 && t.boundary {
			return false
		}
		if isNumber(t.lower) {
			return false
		}
	}
	first, last := span[0], span[len(span)-1]
	return usable(first, stop, minLen) && usable(last, stop, minLen)
}

// dedupe drops candidates that repeat a better-scored one word for word or
// are contained in it as a whole-word phrase with the same occurrences.
func dedupe(kws []document.Keyword) []document.Keyword {
	sort.SliceStable(kws, func(i, j int) bool { return kws[i].Score > kws[j].Score })
	var out []document.Keyword
	for _, k := range kws {
		dup := false
		for _, o := range out {
			if o.Text == k.Text || (len(o.Positions) == len(k.Positions) && strings.Contains(" "+o.Text+" ", " "+k.Text+" ")) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, k)
		}
	}
	return out
}

func isAcronym(r []rune) bool {
	for _, c := range r {
		if !unicode.IsUpper(c) && !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}

func dispersion(ctx map[string]int) float64 {
	total := 0
	for _, n := range ctx {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(len(ctx)) / float64(total)
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 1, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}

func median(xs []int) float64 {
	s := append([]int(nil), xs...)
	sort.Ints(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(s[n/2])
	}
	return float64(s[n/2-1]+s[n/2]) / 2
}
