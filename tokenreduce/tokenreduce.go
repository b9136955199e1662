// Package tokenreduce shrinks text before it is sent to token-priced
// consumers.
//
// Modes, each including the previous:
//
//	light      collapse whitespace and repeated punctuation
//	moderate   drop stopwords
//	aggressive drop repeated sentences
//	maximum    drop low-information words (short, non-alphanumeric)
//
// With preserve on, capitalized words, numbers and the given keywords are
// never dropped.
package tokenreduce

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/stopwords"
)

// Level is the numeric strength of a mode.
type Level int

const (
	Off Level = iota
	Light
	Moderate
	Aggressive
	Maximum
)

// ParseMode maps a mode name to its Level.
func ParseMode(mode string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "off":
		return Off, nil
	case "light":
		return Light, nil
	case "moderate":
		return Moderate, nil
	case "aggressive":
		return Aggressive, nil
	case "maximum":
		return Maximum, nil
	}
	return Off, docerr.Validation("unknown token reduction mode %q", mode)
}

// Options is the resolved form of config.TokenReductionConfig.
type Options struct {
	Level    Level
	Language string
	Preserve bool
	// Keywords are kept regardless of mode when Preserve is set.
	Keywords []string
}

// FromConfig builds Options from cfg. A nil cfg gives Off.
func FromConfig(cfg *config.TokenReductionConfig, language string) (Options, error) {
	if cfg == nil {
		return Options{}, nil
	}
	lvl, err := ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{Level: lvl, Language: language, Preserve: cfg.PreserveImportant()}, nil
}

var (
	spaceRun  = regexp.MustCompile(`[ \t\f\v]+`)
	blankRun  = regexp.MustCompile(`\n{3,}`)
	sentSplit = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)
)

// Reduce applies opts to text.
func Reduce(text string, opts Options) string {
	if opts.Level == Off || text == "" {
		return text
	}
	text = collapsePunct(text)
	text = normalizeSpace(text)
	if opts.Level >= Moderate {
		text = filterWords(text, opts)
	}
	if opts.Level >= Aggressive {
		text = dedupeSentences(text)
	}
	return strings.TrimSpace(text)
}

// collapsePunct shortens runs of three or more identical punctuation
// marks ("!!!!", "-----") to one.
func collapsePunct(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		for j < len(runes) && runes[j] == r {
			j++
		}
		if j-i >= 3 && (unicode.IsPunct(r) || unicode.IsSymbol(r)) {
			b.WriteRune(r)
		} else {
			for k := i; k < j; k++ {
				b.WriteRune(r)
			}
		}
		i = j
	}
	return b.String()
}

func normalizeSpace(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	return blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func filterWords(text string, opts Options) string {
	stop := stopwords.For(opts.Language)
	keep := map[string]bool{}
	for _, k := range opts.Keywords {
		for _, w := range strings.Fields(strings.ToLower(k)) {
			keep[w] = true
		}
	}

	lines := strings.Split(text, "\n")
	for li, line := range lines {
		words := strings.Fields(line)
		out := words[:0]
		for _, w := range words {
			if drop(w, stop, keep, opts) {
				continue
			}
			out = append(out, w)
		}
		lines[li] = strings.Join(out, " ")
	}
	return blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func drop(word string, stop, keep map[string]bool, opts Options) bool {
	core := strings.ToLower(strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }))
	if opts.Preserve && (keep[core] || important(word)) {
		return false
	}
	if core == "" {
		// Pure punctuation: only maximum drops it.
		return opts.Level >= Maximum
	}
	if stop[core] {
		return true
	}
	if opts.Level >= Maximum && utf8.RuneCountInString(core) <= 2 && !hasDigit(core) {
		return true
	}
	return false
}

// important reports capitalized words and numbers.
func important(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r) || hasDigit(word)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// dedupeSentences removes sentences already seen, comparing case- and
// space-insensitively.
func dedupeSentences(text string) string {
	var b strings.Builder
	seen := map[string]bool{}
	paras := strings.Split(text, "\n\n")
	for pi, p := range paras {
		var kept []string
		for _, s := range splitSentences(p) {
			key := strings.ToLower(strings.Join(strings.Fields(s), " "))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, strings.TrimSpace(s))
		}
		if len(kept) == 0 {
			continue
		}
		if pi > 0 && b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(kept, " "))
	}
	return b.String()
}

func splitSentences(p string) []string {
	var out []string
	last := 0
	for _, loc := range sentSplit.FindAllStringIndex(p, -1) {
		out = append(out, p[last:loc[1]])
		last = loc[1]
	}
	if last < len(p) {
		out = append(out, p[last:])
	}
	return out
}

// Ratio is len(reduced)/len(original) in characters. 1 for empty input.
func Ratio(original, reduced string) float64 {
	n := utf8.RuneCountInString(original)
	if n == 0 {
		return 1
	}
	return float64(utf8.RuneCountInString(reduced)) / float64(n)
}
